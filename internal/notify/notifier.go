// Package notify delivers the core's outbound notifications at least once.
// Consumers drop duplicates by DedupKey.
package notify

import (
	"context"
	"errors"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ErrUnavailable is returned by a sink that cannot accept messages right now.
var ErrUnavailable = errors.New("notification sink unavailable")

// Notifier delivers one notification. Delivering the same DedupKey twice
// must be harmless.
type Notifier interface {
	Notify(ctx context.Context, n event.Notification) error
}

// RetryPolicy bounds redelivery of a single notification.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Worker drains the core's notify channel. Notifications are delivered in
// sequence order; one that exhausts its retries is logged and skipped, since
// committed state does not depend on delivery.
type Worker struct {
	notifier Notifier
	input    <-chan core.CoreOutput
	policy   RetryPolicy
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewWorker(
	notifier Notifier,
	input <-chan core.CoreOutput,
	policy RetryPolicy,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Worker {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Worker{
		notifier: notifier,
		input:    input,
		policy:   policy,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled or the input channel is closed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.input:
			if !ok {
				return nil
			}
			for _, n := range output.Notifications {
				if err := w.deliver(ctx, n); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					w.logger.Error().
						Err(err).
						Str("dedup_key", n.DedupKey).
						Str("type", string(n.Type)).
						Msg("notification dropped after retries")
				}
			}
		}
	}
}

func (w *Worker) deliver(ctx context.Context, n event.Notification) error {
	var err error
	for attempt := 0; attempt < w.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.NotificationRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.policy.Backoff(attempt)):
			}
		}

		if err = w.notifier.Notify(ctx, n); err == nil {
			if w.metrics != nil {
				w.metrics.NotificationsPublished.WithLabelValues(string(n.Type)).Inc()
			}
			return nil
		}
		w.logger.Warn().
			Err(err).
			Str("dedup_key", n.DedupKey).
			Int("attempt", attempt+1).
			Msg("notification publish failed")
	}
	if w.metrics != nil {
		w.metrics.NotificationFailures.Inc()
	}
	return err
}
