package notify

import (
	"context"
	"sync"

	"PredictLedger/internal/event"

	"github.com/rs/zerolog"
)

// MemoryNotifier keeps delivered notifications in memory and drops repeats
// of a DedupKey, the way a consumer is expected to.
type MemoryNotifier struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	delivered []event.Notification
	attempts  int
	failNext  int
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{seen: make(map[string]struct{})}
}

// FailNext makes the next n calls return ErrUnavailable.
func (m *MemoryNotifier) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MemoryNotifier) Notify(_ context.Context, n event.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failNext > 0 {
		m.failNext--
		return ErrUnavailable
	}
	if _, dup := m.seen[n.DedupKey]; dup {
		return nil
	}
	m.seen[n.DedupKey] = struct{}{}
	m.delivered = append(m.delivered, n)
	return nil
}

// Delivered returns a copy of the unique notifications in arrival order.
func (m *MemoryNotifier) Delivered() []event.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Notification(nil), m.delivered...)
}

// Attempts counts every Notify call, failed or duplicate included.
func (m *MemoryNotifier) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LogNotifier writes notifications to a logger. Used when no broker is
// configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n event.Notification) error {
	l.logger.Info().
		Str("dedup_key", n.DedupKey).
		Int64("sequence", n.Sequence).
		Str("type", string(n.Type)).
		Interface("data", n.Data).
		Msg("notification")
	return nil
}
