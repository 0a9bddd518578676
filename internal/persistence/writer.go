package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"

	"github.com/google/uuid"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres caps bind parameters at 65535 per statement.
const maxParams = 65535

// OperationRow is a row in event_log.operations.
type OperationRow struct {
	Sequence       int64
	IdempotencyKey string
	OperationType  string
	MarketID       *int64
	Caller         uuid.UUID
	TimestampUs    int64
	SourceSequence int64
	Payload        []byte
	Response       []byte
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow is a row in event_log.journal.
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	TimestampUs   int64
}

// NewOperationRow flattens an envelope for the log.
func NewOperationRow(env *event.EventEnvelope) OperationRow {
	row := OperationRow{
		Sequence:       env.Sequence,
		IdempotencyKey: env.IdempotencyKey,
		OperationType:  env.OperationType.String(),
		Caller:         env.Caller,
		TimestampUs:    env.TimestampUs,
		SourceSequence: env.SourceSequence,
		Payload:        env.Payload,
		Response:       env.Response,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	}
	if env.MarketID != nil {
		id := int64(*env.MarketID)
		row.MarketID = &id
	}
	return row
}

// Envelope is the inverse of NewOperationRow.
func (r OperationRow) Envelope() *event.EventEnvelope {
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		OperationType:  event.ParseOperationType(r.OperationType),
		Caller:         r.Caller,
		TimestampUs:    r.TimestampUs,
		SourceSequence: r.SourceSequence,
		Payload:        r.Payload,
		Response:       r.Response,
	}
	if r.MarketID != nil {
		id := uint64(*r.MarketID)
		env.MarketID = &id
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env
}

// NewJournalRows flattens a batch. A nil batch yields no rows.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch.Empty() {
		return nil
	}
	rows := make([]JournalRow, len(batch.Journals))
	for i, j := range batch.Journals {
		rows[i] = JournalRow{
			JournalID:     j.JournalID,
			BatchID:       j.BatchID,
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			TimestampUs:   j.Timestamp,
		}
	}
	return rows
}

// EventLogWriter writes operations and journals with multi-row INSERTs.
// Conflicts are ignored so a retried flush is idempotent.
type EventLogWriter struct{}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

const operationColumns = 11

func (w *EventLogWriter) WriteOperationBatch(ctx context.Context, ex Execer, ops []OperationRow) error {
	for _, chunk := range chunks(len(ops), maxParams/operationColumns) {
		part := ops[chunk[0]:chunk[1]]
		args := make([]any, 0, len(part)*operationColumns)
		for _, o := range part {
			args = append(args,
				o.Sequence, o.IdempotencyKey, o.OperationType, o.MarketID, o.Caller,
				o.TimestampUs, o.SourceSequence, o.Payload, o.Response, o.StateHash, o.PrevHash,
			)
		}
		query := `INSERT INTO event_log.operations
			(sequence, idempotency_key, operation_type, market_id, caller,
			 timestamp_us, source_sequence, payload, response, state_hash, prev_hash)
			VALUES ` + placeholders(len(part), operationColumns) +
			` ON CONFLICT (sequence) DO NOTHING`
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert operations: %w", err)
		}
	}
	return nil
}

const journalColumns = 9

func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex Execer, journals []JournalRow) error {
	for _, chunk := range chunks(len(journals), maxParams/journalColumns) {
		part := journals[chunk[0]:chunk[1]]
		args := make([]any, 0, len(part)*journalColumns)
		for _, j := range part {
			args = append(args,
				j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.DebitAccount,
				j.CreditAccount, j.Amount, j.JournalType, j.TimestampUs,
			)
		}
		query := `INSERT INTO event_log.journal
			(journal_id, batch_id, event_ref, sequence, debit_account,
			 credit_account, amount, journal_type, timestamp_us)
			VALUES ` + placeholders(len(part), journalColumns) +
			` ON CONFLICT (journal_id) DO NOTHING`
		if _, err := ex.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert journals: %w", err)
		}
	}
	return nil
}

// placeholders renders "($1, $2), ($3, $4)" for rows × cols.
func placeholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// chunks splits [0, n) into [start, end) ranges of at most size.
func chunks(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
