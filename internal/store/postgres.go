package store

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore keeps state in a single kv_state table (see migrations).
// Scans order by key COLLATE "C" so the order is bytewise like every other
// backend.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_state WHERE key = $1`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageError("postgres get", err)
	}
	return value, nil
}

func (s *PostgresStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv_state
		WHERE left(key, $2) = $1
		ORDER BY key COLLATE "C"
	`, prefix, len(prefix))
	if err != nil {
		return nil, storageError("postgres scan", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, storageError("postgres scan row", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("postgres scan rows", err)
	}
	return out, nil
}

func (s *PostgresStore) Apply(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("postgres begin", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`)
	if err != nil {
		return storageError("postgres prepare upsert", err)
	}
	defer upsert.Close()

	del, err := tx.PrepareContext(ctx, `DELETE FROM kv_state WHERE key = $1`)
	if err != nil {
		return storageError("postgres prepare delete", err)
	}
	defer del.Close()

	for _, w := range writes {
		if w.Delete {
			if _, err := del.ExecContext(ctx, w.Key); err != nil {
				return storageError("postgres delete", err)
			}
			continue
		}
		if _, err := upsert.ExecContext(ctx, w.Key, w.Value); err != nil {
			return storageError("postgres upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageError("postgres commit", err)
	}
	return nil
}

// Close is a no-op: the *sql.DB is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
