package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PredictLedger/internal/event"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultSubjectPrefix is followed by the notification type:
	// predict.notifications.TradeExecuted
	DefaultSubjectPrefix = "predict.notifications"

	NotificationStream = "PREDICT_NOTIFICATIONS"
)

// JetStreamNotifier publishes to NATS JetStream. The DedupKey travels as
// Nats-Msg-Id, so the server drops republished copies inside the stream's
// duplicate window.
type JetStreamNotifier struct {
	js     jetstream.JetStream
	prefix string
}

func NewJetStreamNotifier(js jetstream.JetStream, prefix string) *JetStreamNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &JetStreamNotifier{js: js, prefix: prefix}
}

// Subject returns the subject a notification of type t is published on.
func (n *JetStreamNotifier) Subject(t event.NotificationType) string {
	return fmt.Sprintf("%s.%s", n.prefix, t)
}

func (n *JetStreamNotifier) Notify(ctx context.Context, note event.Notification) error {
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", note.DedupKey, err)
	}
	if _, err := n.js.Publish(ctx, n.Subject(note.Type), data, jetstream.WithMsgID(note.DedupKey)); err != nil {
		return fmt.Errorf("publish %s: %w", note.DedupKey, err)
	}
	return nil
}

// EnsureNotificationStream creates or updates the outbound stream.
func EnsureNotificationStream(ctx context.Context, js jetstream.JetStream, prefix string) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       NotificationStream,
		Subjects:   []string{prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create notification stream: %w", err)
	}
	return nil
}
