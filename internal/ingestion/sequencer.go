package ingestion

import (
	"context"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Executor is the single-threaded request processor.
type Executor interface {
	Execute(ctx context.Context, req event.Request) event.Response
}

// Submission is one request on its way to the core. Reply, Ack and Nak are
// optional. Reply must be buffered; the sequencer never blocks on it.
type Submission struct {
	Request    event.Request
	Source     string
	ReceivedAt time.Time
	Reply      chan<- event.Response
	Ack        func()
	Nak        func()
}

// Sequencer is the only goroutine that calls the core. Every ingestion
// surface funnels into its input channel, which gives the total order.
type Sequencer struct {
	exec    Executor
	input   <-chan Submission
	tasks   chan task
	metrics *observability.Metrics
	logger  zerolog.Logger
}

type task struct {
	fn   func(context.Context) error
	done chan error
}

func NewSequencer(exec Executor, input <-chan Submission, metrics *observability.Metrics, logger zerolog.Logger) *Sequencer {
	return &Sequencer{
		exec:    exec,
		input:   input,
		tasks:   make(chan task),
		metrics: metrics,
		logger:  logger,
	}
}

// Do runs fn on the sequencer goroutine between two requests, so fn sees
// the core quiescent. Used for snapshots.
func (s *Sequencer) Do(ctx context.Context, fn func(context.Context) error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains submissions until ctx is cancelled or the input closes.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-s.input:
			if !ok {
				return nil
			}
			s.process(ctx, sub)
		case t := <-s.tasks:
			t.done <- t.fn(ctx)
		}
	}
}

func (s *Sequencer) process(ctx context.Context, sub Submission) {
	opName := event.OperationTypeUnknown.String()
	if sub.Request.Operation != nil {
		opName = sub.Request.Operation.OperationType().String()
	}
	if s.metrics != nil && !sub.ReceivedAt.IsZero() {
		s.metrics.IngestToApply.WithLabelValues(opName).Observe(time.Since(sub.ReceivedAt).Seconds())
	}

	resp := s.exec.Execute(ctx, sub.Request)

	if sub.Reply != nil {
		select {
		case sub.Reply <- resp:
		default:
			s.logger.Warn().Str("request_id", resp.RequestID.String()).Msg("reply channel full, response dropped")
		}
	}

	if !resp.OK {
		s.logger.Debug().
			Str("source", sub.Source).
			Str("op", opName).
			Str("request_id", resp.RequestID.String()).
			Str("code", resp.ErrorCode).
			Msg("request not applied")
	}

	// Unrecorded failures are redelivered; everything else is final.
	if Retryable(resp.ErrorCode) {
		if sub.Nak != nil {
			sub.Nak()
		}
		return
	}
	if sub.Ack != nil {
		sub.Ack()
	}
}

// Retryable reports whether a response code means the request was not
// recorded and may succeed when resubmitted.
func Retryable(code string) bool {
	switch code {
	case core.CodeStorage, core.CodeSequenceGap, core.CodeInternal:
		return true
	}
	return false
}

// Submitter enqueues a request and waits for its response.
type Submitter struct {
	queue  chan<- Submission
	source string
}

func NewSubmitter(queue chan<- Submission, source string) *Submitter {
	return &Submitter{queue: queue, source: source}
}

func (s *Submitter) Submit(ctx context.Context, req event.Request) (event.Response, error) {
	if err := ValidateRequest(req); err != nil {
		return event.Response{}, err
	}
	reply := make(chan event.Response, 1)
	sub := Submission{
		Request:    req,
		Source:     s.source,
		ReceivedAt: time.Now(),
		Reply:      reply,
	}

	select {
	case s.queue <- sub:
	case <-ctx.Done():
		return event.Response{}, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return event.Response{}, ctx.Err()
	}
}
