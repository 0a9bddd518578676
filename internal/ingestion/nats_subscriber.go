package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// RequestStream holds ordered requests from the sequencing layer.
	RequestStream = "PREDICT_REQUESTS"

	// DefaultRequestSubject is followed by the operation type:
	// predict.requests.BuyShares
	DefaultRequestSubject = "predict.requests"

	DefaultConsumerName = "predict-ledger"
)

// SubscriberConfig selects the stream, filter and durable consumer.
type SubscriberConfig struct {
	Stream       string
	Subject      string
	ConsumerName string
	AckWait      time.Duration
	MaxDeliver   int
}

func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		Stream:       RequestStream,
		Subject:      DefaultRequestSubject + ".>",
		ConsumerName: DefaultConsumerName,
		AckWait:      30 * time.Second,
		MaxDeliver:   5,
	}
}

// NATSSubscriber consumes requests from JetStream and forwards them to the
// sequencer. A message is acked after the core has answered it, so a crash
// between commit and ack only causes a redelivery the core deduplicates.
// A single ordered consumer keeps stream order.
type NATSSubscriber struct {
	js       jetstream.JetStream
	queue    chan<- Submission
	consumer jetstream.ConsumeContext
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, queue chan<- Submission, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		queue:   queue,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe creates the durable consumer and starts delivery. MaxAckPending
// is 1 so the next message is only delivered once the previous one is
// acked, which preserves the upstream order across redeliveries.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, cfg SubscriberConfig) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ns.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
	}
	ns.consumer = cc

	ns.logger.Info().
		Str("subject", cfg.Subject).
		Str("consumer", cfg.ConsumerName).
		Msg("subscribed")
	return nil
}

func (ns *NATSSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	received := time.Now()
	if ns.metrics != nil {
		if meta, err := msg.Metadata(); err == nil {
			ns.metrics.NATSPullLatency.WithLabelValues(msg.Subject()).Observe(received.Sub(meta.Timestamp).Seconds())
		}
	}

	req, err := ParseRequest(msg.Data())
	if err != nil {
		// Poison message: redelivery cannot fix it.
		ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed request")
		if termErr := msg.Term(); termErr != nil {
			ns.logger.Warn().Err(termErr).Msg("term failed")
		}
		return
	}

	sub := Submission{
		Request:    req,
		Source:     "nats",
		ReceivedAt: received,
		Ack: func() {
			if err := msg.Ack(); err != nil {
				ns.logger.Warn().Err(err).Str("request_id", req.RequestID.String()).Msg("ack failed")
			}
		},
		Nak: func() {
			if err := msg.NakWithDelay(time.Second); err != nil {
				ns.logger.Warn().Err(err).Str("request_id", req.RequestID.String()).Msg("nak failed")
			}
		},
	}

	select {
	case ns.queue <- sub:
	case <-ctx.Done():
		_ = msg.Nak()
	}
}

// Stop stops delivery. Queued submissions are still processed.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// EnsureRequestStream creates the inbound request stream. Nats-Msg-Id is the
// request id, so publisher retries inside the window are dropped server side.
func EnsureRequestStream(ctx context.Context, js jetstream.JetStream, subject string) error {
	if subject == "" {
		subject = DefaultRequestSubject
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       RequestStream,
		Subjects:   []string{subject + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", RequestStream, err)
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream handle.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("predict-ledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// StreamCheck is a readiness probe on the request stream.
func StreamCheck(js jetstream.JetStream) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := js.Stream(ctx, RequestStream); err != nil {
			if errors.Is(err, jetstream.ErrStreamNotFound) {
				return fmt.Errorf("stream %s missing", RequestStream)
			}
			return err
		}
		return nil
	}
}
