package store

import (
	"context"
	"sort"
	"strings"
)

// Txn stages writes over a base reader. Nothing reaches the base until
// Commit; dropping the Txn discards every staged write.
type Txn struct {
	base    Reader
	pending map[string]Write
}

func NewTxn(base Reader) *Txn {
	return &Txn{base: base, pending: make(map[string]Write)}
}

func (t *Txn) Get(ctx context.Context, key string) ([]byte, error) {
	if w, ok := t.pending[key]; ok {
		if w.Delete {
			return nil, ErrNotFound
		}
		return cloneBytes(w.Value), nil
	}
	return t.base.Get(ctx, key)
}

func (t *Txn) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	baseEntries, err := t.base.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	merged := make(map[string][]byte, len(baseEntries))
	for _, e := range baseEntries {
		merged[e.Key] = e.Value
	}
	for k, w := range t.pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k)
		} else {
			merged[k] = cloneBytes(w.Value)
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: k, Value: merged[k]})
	}
	return out, nil
}

func (t *Txn) Set(key string, value []byte) {
	t.pending[key] = Write{Key: key, Value: cloneBytes(value)}
}

func (t *Txn) Delete(key string) {
	t.pending[key] = Write{Key: key, Delete: true}
}

// Writes returns the staged writes in key order.
func (t *Txn) Writes() []Write {
	keys := make([]string, 0, len(t.pending))
	for k := range t.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Write, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.pending[k])
	}
	return out
}

// Len returns the number of staged writes.
func (t *Txn) Len() int {
	return len(t.pending)
}

// Commit applies the staged writes to s atomically.
func (t *Txn) Commit(ctx context.Context, s Store) error {
	if len(t.pending) == 0 {
		return nil
	}
	return s.Apply(ctx, t.Writes())
}
