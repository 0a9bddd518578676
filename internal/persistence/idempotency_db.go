package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresIdempotencyChecker is the last dedup tier: it finds the stored
// response of an operation in the log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db, timeout: 500 * time.Millisecond}
}

// LookupResponse returns the logged response for idempotencyKey.
func (pic *PostgresIdempotencyChecker) LookupResponse(ctx context.Context, idempotencyKey string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	var resp []byte
	err := pic.db.QueryRowContext(ctx, `
		SELECT response
		FROM event_log.operations
		WHERE idempotency_key = $1
	`, idempotencyKey).Scan(&resp)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}
