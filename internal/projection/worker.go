package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/store"

	"github.com/rs/zerolog"
)

const watermarkID = "main"

// ProjectionWorker keeps the projection tables in step with the core.
// The projection channel drops on overflow, so these tables are eventually
// consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db      *sql.DB
	input   <-chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger
	lastSeq int64
}

func NewProjectionWorker(
	db *sql.DB,
	input <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:      db,
		input:   input,
		metrics: metrics,
		logger:  logger,
	}
}

// Run applies outputs until ctx is cancelled or the input closes. Outputs at
// or below the watermark (replays after a restart) are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := Watermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.input:
			if !ok {
				return nil
			}
			if output.Envelope == nil || output.Envelope.Sequence <= pw.lastSeq {
				continue
			}
			if err := pw.process(ctx, output); err != nil {
				// Projections are rebuildable; a failed update is logged, not fatal.
				pw.logger.Warn().Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

func (pw *ProjectionWorker) process(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	u, err := Fold(output)
	if err != nil {
		return err
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := Apply(ctx, tx, u); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.
			WithLabelValues(output.Envelope.OperationType.String()).
			Observe(time.Since(start).Seconds())
	}
	return nil
}

// Apply writes one update and advances the watermark.
func Apply(ctx context.Context, tx *sql.Tx, u *Update) error {
	for _, b := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, balance, last_sequence)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_path)
			DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance,
			              last_sequence = EXCLUDED.last_sequence
		`, b.AccountPath, b.Delta, u.Sequence); err != nil {
			return fmt.Errorf("balance %s: %w", b.AccountPath, err)
		}
	}

	for _, p := range u.Players {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.players
				(player_id, display_name, level, xp, total_profit, markets_won,
				 markets_participated, markets_created, guild_id, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (player_id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				level = EXCLUDED.level,
				xp = EXCLUDED.xp,
				total_profit = EXCLUDED.total_profit,
				markets_won = EXCLUDED.markets_won,
				markets_participated = EXCLUDED.markets_participated,
				markets_created = EXCLUDED.markets_created,
				guild_id = EXCLUDED.guild_id,
				last_sequence = EXCLUDED.last_sequence
		`, p.PlayerID, p.DisplayName, int64(p.Level), int64(p.XP), p.TotalProfit, int64(p.MarketsWon),
			int64(p.MarketsParticipated), int64(p.MarketsCreated), nullableID(p.GuildID), u.Sequence); err != nil {
			return fmt.Errorf("player %s: %w", p.PlayerID, err)
		}
	}

	for _, m := range u.Markets {
		var winner sql.NullInt64
		if m.WinningOutcome != nil {
			winner = sql.NullInt64{Int64: int64(*m.WinningOutcome), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.markets
				(market_id, creator, title, status, resolution_method, outcome_count,
				 total_liquidity, participant_count, end_time_us, winning_outcome, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (market_id) DO UPDATE SET
				status = EXCLUDED.status,
				total_liquidity = EXCLUDED.total_liquidity,
				participant_count = EXCLUDED.participant_count,
				winning_outcome = EXCLUDED.winning_outcome,
				last_sequence = EXCLUDED.last_sequence
		`, int64(m.MarketID), m.Creator, m.Title, m.Status, m.ResolutionMethod, m.OutcomeCount,
			m.TotalLiquidity, int64(m.ParticipantCount), m.EndTimeUs, winner, u.Sequence); err != nil {
			return fmt.Errorf("market %d: %w", m.MarketID, err)
		}
	}

	for _, t := range u.Trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.trades
				(sequence, idx, player_id, market_id, outcome_id, side, shares, price, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (sequence, idx) DO NOTHING
		`, t.Sequence, t.Index, t.PlayerID, int64(t.MarketID), int64(t.OutcomeID),
			t.Side, t.Shares, t.Price, t.Amount); err != nil {
			return fmt.Errorf("trade %d:%d: %w", t.Sequence, t.Index, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkID, u.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

func nullableID(id *uint64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

// Watermark returns the last sequence folded into the projections.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, watermarkID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// OperationLog is the read side of the event log.
type OperationLog interface {
	LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error)
}

// RebuildProjections truncates the projection tables and refills them by
// re-executing the whole log on a scratch core. Notifications are not
// logged, so re-execution is the only way to recover trade rows.
func RebuildProjections(
	ctx context.Context,
	db *sql.DB,
	log OperationLog,
	genesis event.GameConfig,
	logger zerolog.Logger,
) (int64, error) {
	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.players`,
		`TRUNCATE projections.markets`,
		`TRUNCATE projections.trades`,
		`DELETE FROM projections.watermark`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	outputs := make(chan core.CoreOutput, 1)
	scratch := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{Persist: outputs}, core.Options{})
	if err := scratch.Bootstrap(ctx, genesis); err != nil {
		return 0, err
	}

	const pageSize = 1000
	for {
		page, err := log.LoadOperationsFrom(ctx, scratch.GetSequence()+1, pageSize)
		if err != nil {
			return 0, err
		}
		for _, env := range page {
			if err := scratch.Replay(ctx, env); err != nil {
				return 0, err
			}
			u, err := Fold(<-outputs)
			if err != nil {
				return 0, err
			}
			if err := applyTx(ctx, db, u); err != nil {
				return 0, err
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	logger.Info().Int64("sequence", scratch.GetSequence()).Msg("projection rebuild complete")
	return scratch.GetSequence(), nil
}

func applyTx(ctx context.Context, db *sql.DB, u *Update) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := Apply(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}
