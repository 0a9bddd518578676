// Package store is the deterministic key-value abstraction the core runs on.
// Keys are compared bytewise; every backend returns scans in that order.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("key not found")
	// ErrStorage marks a backend failure. Operations abort on it.
	ErrStorage = errors.New("storage failure")
)

// Entry is one key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Write is one staged mutation. Delete ignores Value.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Reader is the read half of a store.
type Reader interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan returns every entry whose key starts with prefix, in ascending
	// bytewise key order.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// ReadWriter is what state repositories operate on.
type ReadWriter interface {
	Reader
	Set(key string, value []byte)
	Delete(key string)
}

// Store is a backend. Apply must commit all writes or none.
type Store interface {
	Reader
	Apply(ctx context.Context, writes []Write) error
	Close() error
}

// storageError wraps a backend error so callers can match ErrStorage while
// still seeing the backend's own message.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or "" when no such bound exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
