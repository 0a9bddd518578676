package persistence

import (
	"context"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotStore is the write side of SnapshotManager.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
	Prune(ctx context.Context, keep int) (int64, error)
}

// Quiescer runs fn while no request is being applied.
type Quiescer interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// Snapshotter takes periodic snapshots. The state is captured on the
// sequencer goroutine; encoding, storing and verifying happen off it.
type Snapshotter struct {
	store    SnapshotStore
	core     *core.DeterministicCore
	quiescer Quiescer
	interval time.Duration
	keep     int
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSequence int64
}

func NewSnapshotter(
	st SnapshotStore,
	c *core.DeterministicCore,
	q Quiescer,
	interval time.Duration,
	keep int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Snapshotter {
	if keep <= 0 {
		keep = 3
	}
	return &Snapshotter{
		store:    st,
		core:     c,
		quiescer: q,
		interval: interval,
		keep:     keep,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run snapshots every interval until ctx is cancelled. Failures are logged;
// the next tick tries again.
func (s *Snapshotter) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.TakeSnapshot(ctx); err != nil {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// TakeSnapshot captures, stores and verifies one snapshot. It returns the
// snapshot sequence, or 0 when nothing was applied since the last one.
func (s *Snapshotter) TakeSnapshot(ctx context.Context) (int64, error) {
	start := time.Now()

	var state *core.SnapshotState
	err := s.quiescer.Do(ctx, func(ctx context.Context) error {
		if s.core.GetSequence() == s.lastSequence {
			return nil
		}
		var err error
		state, err = s.core.CreateSnapshotState(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, nil
	}

	data := NewSnapshotData(state, time.Now().UTC())
	size, err := s.store.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, err
	}
	if err := VerifySnapshot(ctx, data); err != nil {
		return 0, err
	}
	if err := s.store.MarkVerified(ctx, data.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot %d verified: %w", data.Sequence, err)
	}
	pruned, err := s.store.Prune(ctx, s.keep)
	if err != nil {
		s.logger.Warn().Err(err).Msg("snapshot prune failed")
	}
	s.lastSequence = data.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	s.logger.Info().
		Int64("sequence", data.Sequence).
		Int("entries", len(data.Entries)).
		Int("bytes", size).
		Int64("pruned", pruned).
		Msg("snapshot taken")
	return data.Sequence, nil
}
