package ingestion

import (
	"context"
	"fmt"

	"PredictLedger/internal/event"

	"github.com/nats-io/nats.go/jetstream"
)

// RequestPublisher puts requests on the inbound stream. Used by predictctl
// and by ordering layers written in Go.
type RequestPublisher struct {
	js     jetstream.JetStream
	prefix string
}

func NewRequestPublisher(js jetstream.JetStream, prefix string) *RequestPublisher {
	if prefix == "" {
		prefix = DefaultRequestSubject
	}
	return &RequestPublisher{js: js, prefix: prefix}
}

// Subject returns the subject a request is published on.
func (p *RequestPublisher) Subject(req event.Request) string {
	return fmt.Sprintf("%s.%s", p.prefix, req.Operation.OperationType())
}

// Publish validates and publishes req and returns the stream sequence.
// The request id doubles as Nats-Msg-Id.
func (p *RequestPublisher) Publish(ctx context.Context, req event.Request) (uint64, error) {
	if err := ValidateRequest(req); err != nil {
		return 0, err
	}
	data, err := event.EncodeRequest(req)
	if err != nil {
		return 0, err
	}

	ack, err := p.js.Publish(ctx, p.Subject(req), data, jetstream.WithMsgID(req.RequestID.String()))
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", req.RequestID, err)
	}
	return ack.Sequence, nil
}
