package core

import (
	"container/list"
	"context"
	"errors"

	"PredictLedger/internal/store"
)

// PrefixRequest holds the stored response of every recorded request.
const PrefixRequest = "request/"

func RequestKey(idempotencyKey string) string { return PrefixRequest + idempotencyKey }

// IdempotencyChecker implements three-tier deduplication. A hit returns the
// response stored when the request was first executed.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: request records in the state store (read per call)

	// Tier 3: operation log (injected via interface, optional)
	dbChecker DBIdempotencyChecker

	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker looks a request up in the persisted operation log
type DBIdempotencyChecker interface {
	LookupResponse(ctx context.Context, idempotencyKey string) ([]byte, bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// Lookup returns the stored response of an already executed request. A
// store failure is returned; an operation log failure is counted and treated
// as a miss, since the store tier is authoritative. consultLog is false
// during replay, where every request is by construction already logged.
func (ic *IdempotencyChecker) Lookup(ctx context.Context, kv store.Reader, opType, idempotencyKey string, consultLog bool) ([]byte, bool, error) {
	if resp, ok := ic.lru.Get(idempotencyKey); ok {
		ic.metrics.RecordDuplicate(opType, "lru")
		return resp, true, nil
	}

	resp, err := kv.Get(ctx, RequestKey(idempotencyKey))
	switch {
	case err == nil:
		ic.metrics.RecordDuplicate(opType, "store")
		ic.lru.Add(idempotencyKey, resp)
		return resp, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	if consultLog && ic.dbChecker != nil {
		resp, found, err := ic.dbChecker.LookupResponse(ctx, idempotencyKey)
		if err != nil {
			ic.metrics.RecordTier2Error()
			return nil, false, nil
		}
		if found {
			ic.metrics.RecordDuplicate(opType, "postgres")
			ic.lru.Add(idempotencyKey, resp)
			return resp, true, nil
		}
	}
	return nil, false, nil
}

// MarkProcessed caches the response after the request record is committed
func (ic *IdempotencyChecker) MarkProcessed(idempotencyKey string, response []byte) {
	ic.lru.Add(idempotencyKey, response)
}

func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU caches recent responses by idempotency key.
// Not thread-safe: only the core goroutine touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key      string
	response []byte
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the cached response (promotes to front)
func (lru *IdempotencyLRU) Get(key string) ([]byte, bool) {
	elem, exists := lru.cache[key]
	if !exists {
		return nil, false
	}
	lru.lruList.MoveToFront(elem)
	return elem.Value.(*lruEntry).response, true
}

func (lru *IdempotencyLRU) Contains(key string) bool {
	_, ok := lru.Get(key)
	return ok
}

// Add inserts a key (or promotes and refreshes if it exists)
func (lru *IdempotencyLRU) Add(key string, response []byte) {
	if elem, exists := lru.cache[key]; exists {
		elem.Value.(*lruEntry).response = response
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key, response: response})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(*lruEntry).key)
		lru.evictions++
	}
}

// WarmFromEntries loads recent responses, oldest first, so the newest end up
// most recently used. Entry keys are idempotency keys.
func (lru *IdempotencyLRU) WarmFromEntries(entries []store.Entry) {
	for _, e := range entries {
		lru.Add(e.Key, e.Value)
	}
}

func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe: only the core goroutine touches it.
type IdempotencyMetrics struct {
	duplicates  map[string]map[string]int64 // tier -> op type -> count
	tier2Errors int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{duplicates: make(map[string]map[string]int64)}
}

func (m *IdempotencyMetrics) RecordDuplicate(opType string, tier string) {
	byOp, ok := m.duplicates[tier]
	if !ok {
		byOp = make(map[string]int64)
		m.duplicates[tier] = byOp
	}
	byOp[opType]++
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(opType string, tier string) int64 {
	return m.duplicates[tier][opType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
