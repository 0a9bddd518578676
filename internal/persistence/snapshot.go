package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/store"

	"github.com/google/uuid"
)

// snapshotFormatV1 is JSON-encoded SnapshotData.
const snapshotFormatV1 = 1

// SnapshotManager stores full-state snapshots and reads the operation log
// back for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of core.SnapshotState.
type SnapshotData struct {
	Sequence  int64         `json:"sequence"`
	StateHash []byte        `json:"state_hash"`
	Entries   []store.Entry `json:"entries"`
	CreatedAt time.Time     `json:"created_at"`
}

func NewSnapshotData(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	return &SnapshotData{
		Sequence:  s.Sequence,
		StateHash: s.StateHash[:],
		Entries:   s.Entries,
		CreatedAt: createdAt,
	}
}

// State converts back to what the core restores from.
func (d *SnapshotData) State() *core.SnapshotState {
	s := &core.SnapshotState{Sequence: d.Sequence, Entries: d.Entries}
	copy(s.StateHash[:], d.StateHash)
	return s
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot stores an unverified snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatV1, len(data), snap.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatV1 {
		return nil, fmt.Errorf("unsupported snapshot format %d", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx,
		`UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1`, sequence)
	return err
}

// Prune deletes all but the newest keep verified snapshots, plus every
// unverified snapshot older than the newest verified one.
func (sm *SnapshotManager) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		DELETE FROM event_log.snapshots
		WHERE sequence < COALESCE((
			SELECT MIN(sequence) FROM (
				SELECT sequence FROM event_log.snapshots
				WHERE verified = TRUE
				ORDER BY sequence DESC
				LIMIT $1
			) newest
		), 0)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LoadOperationsFrom returns up to limit logged operations with sequence
// >= fromSequence, in order.
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]*event.EventEnvelope, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, idempotency_key, operation_type, market_id, caller,
		       timestamp_us, source_sequence, payload, response, state_hash, prev_hash
		FROM event_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	defer rows.Close()

	var out []*event.EventEnvelope
	for rows.Next() {
		var r OperationRow
		if err := rows.Scan(
			&r.Sequence, &r.IdempotencyKey, &r.OperationType, &r.MarketID, &r.Caller,
			&r.TimestampUs, &r.SourceSequence, &r.Payload, &r.Response, &r.StateHash, &r.PrevHash,
		); err != nil {
			return nil, err
		}
		out = append(out, r.Envelope())
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, 0 when empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.operations`,
	).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// Ping is a readiness probe.
func (sm *SnapshotManager) Ping(ctx context.Context) error {
	return sm.db.PingContext(ctx)
}
