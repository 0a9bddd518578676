package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/store"

	"github.com/rs/zerolog"
)

// OperationSource is the read side of the operation log.
type OperationSource interface {
	LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error)
}

// SnapshotSource yields the newest verified snapshot, or nil.
type SnapshotSource interface {
	LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error)
}

// Recovery brings a core up to the log tip before it takes traffic:
//  1. a store that already holds state is loaded as is;
//  2. an empty store is seeded from the latest verified snapshot, or from
//     genesis when there is none;
//  3. logged operations past the store's sequence are replayed and checked
//     against their logged state hashes.
type Recovery struct {
	Snapshots SnapshotSource
	Log       OperationSource
	PageSize  int
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

func (r *Recovery) Run(ctx context.Context, c *core.DeterministicCore, genesis event.GameConfig) error {
	start := time.Now()

	empty, err := storeEmpty(ctx, c.Store())
	if err != nil {
		return err
	}

	restored := false
	if empty && r.Snapshots != nil {
		snap, err := r.Snapshots.LoadLatestSnapshot(ctx)
		if err != nil {
			return err
		}
		if snap != nil {
			if err := c.RestoreFromSnapshot(ctx, snap.State()); err != nil {
				return err
			}
			restored = true
			r.Logger.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
		}
	}
	if !restored {
		if err := c.Bootstrap(ctx, genesis); err != nil {
			return err
		}
	}

	replayed, err := r.replay(ctx, c)
	if err != nil {
		return err
	}

	if r.Metrics != nil {
		r.Metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	r.Logger.Info().
		Int64("sequence", c.GetSequence()).
		Int("replayed", replayed).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

func (r *Recovery) replay(ctx context.Context, c *core.DeterministicCore) (int, error) {
	if r.Log == nil {
		return 0, nil
	}
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	replayed := 0
	for {
		from := c.GetSequence() + 1
		page, err := r.Log.LoadOperationsFrom(ctx, from, pageSize)
		if err != nil {
			return replayed, err
		}
		for _, env := range page {
			if err := c.Replay(ctx, env); err != nil {
				return replayed, fmt.Errorf("replay: %w", err)
			}
			replayed++
		}
		if len(page) < pageSize {
			return replayed, nil
		}
	}
}

func storeEmpty(ctx context.Context, kv store.Reader) (bool, error) {
	_, err := kv.Get(ctx, core.KeySequence)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		return true, nil
	default:
		return false, fmt.Errorf("probe store: %w", err)
	}
}

// VerifySnapshot restores snap into a scratch store and checks that its
// bookkeeping agrees with its header.
func VerifySnapshot(ctx context.Context, snap *SnapshotData) error {
	scratch := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{LRUCapacity: 1})
	if err := scratch.RestoreFromSnapshot(ctx, snap.State()); err != nil {
		return fmt.Errorf("verify snapshot %d: %w", snap.Sequence, err)
	}
	return nil
}
