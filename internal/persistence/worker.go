package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes the
// operation log. The core sends on that channel with a blocking send, so a
// slow worker stalls the core instead of losing operations.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	input        <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	input <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

type pendingBatch struct {
	ops      []OperationRow
	journals []JournalRow
	oldest   time.Time
}

func (b *pendingBatch) add(output core.CoreOutput) {
	if len(b.ops) == 0 {
		b.oldest = time.Now()
	}
	b.ops = append(b.ops, NewOperationRow(output.Envelope))
	b.journals = append(b.journals, NewJournalRows(output.Batch)...)
}

func (b *pendingBatch) reset() {
	b.ops = b.ops[:0]
	b.journals = b.journals[:0]
}

// Run batches outputs and flushes when the batch is full or the flush
// timeout expires. Blocks until ctx is cancelled or the input closes; the
// pending batch is flushed either way.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		ops:      make([]OperationRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*4),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.ops) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("operations", len(batch.ops)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.input:
			if !ok {
				if len(batch.ops) > 0 {
					if err := pw.flushWithRetry(context.Background(), batch); err != nil {
						return err
					}
				}
				return nil
			}

			batch.add(output)
			if len(batch.ops) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.ops) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancel it makes one last attempt without ctx.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("operations", len(batch.ops)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

// flush writes operations and journals in one transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteOperationBatch(ctx, tx, batch.ops); err != nil {
		pw.countError("write_operations")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.ApplyToPersist.Observe(time.Since(batch.oldest).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.ops)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.ops)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(batch.ops[len(batch.ops)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
