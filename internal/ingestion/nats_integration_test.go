package ingestion_test

import (
	"context"
	"testing"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/store"
	"PredictLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ===========================================================================
// JetStream round trip (INTEGRATION_TEST=1)
// ===========================================================================

func TestNATS_PublishedRequestsReachTheCore(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := zerolog.Nop()

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), logger)
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	defer nc.Close()

	subject := "predict.test." + uuid.NewString()[:8]
	if err := ingestion.EnsureRequestStream(ctx, js, subject); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}

	c := core.NewDeterministicCore(store.NewMemoryStore(), core.Outputs{}, core.Options{})
	if err := c.Bootstrap(ctx, event.DefaultGameConfig()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	queue := make(chan ingestion.Submission, 16)
	seq := ingestion.NewSequencer(c, queue, nil, logger)
	go seq.Run(ctx)

	sub := ingestion.NewNATSSubscriber(js, queue, nil, logger)
	cfg := ingestion.DefaultSubscriberConfig()
	cfg.Subject = subject + ".>"
	cfg.ConsumerName = "test-" + uuid.NewString()[:8]
	if err := sub.Subscribe(ctx, cfg); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	pub := ingestion.NewRequestPublisher(js, subject)
	requests := []event.Request{
		{RequestID: uuid.New(), Sequence: 1, Caller: uuid.New(), TimestampUs: 1_700_000_000_000_000, Operation: &event.RegisterPlayer{DisplayName: "alice"}},
		{RequestID: uuid.New(), Sequence: 2, Caller: uuid.New(), TimestampUs: 1_700_000_000_000_001, Operation: &event.RegisterPlayer{DisplayName: "bob"}},
	}
	for _, req := range requests {
		if _, err := pub.Publish(ctx, req); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	// Same Nats-Msg-Id inside the duplicate window: dropped by the server.
	if _, err := pub.Publish(ctx, requests[0]); err != nil {
		t.Fatalf("republish: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		var applied int64
		if err := seq.Do(ctx, func(context.Context) error {
			applied = c.GetSequence()
			return nil
		}); err != nil {
			t.Fatalf("do: %v", err)
		}
		if applied == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("core at sequence %d, want 2", applied)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
