package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Submitter hands a request to the sequencer and waits for its response.
type Submitter interface {
	Submit(ctx context.Context, req event.Request) (event.Response, error)
}

// SnapshotTrigger takes a snapshot on demand.
type SnapshotTrigger interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// LogInfo reports the event log tip.
type LogInfo interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// Deps holds what the HTTP routes call into. Snapshots and Log are optional.
type Deps struct {
	Query     *query.QueryService
	Submitter Submitter
	Snapshots SnapshotTrigger
	Log       LogInfo
	Health    *observability.HealthChecker
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

// Config holds listen addresses and the submission rate limit.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	SubmitRPS   float64
	SubmitBurst int
}

// Server runs the gRPC server (health and reflection) and the HTTP/JSON
// surface, which is mounted on a grpc-gateway ServeMux.
type Server struct {
	cfg        Config
	deps       Deps
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

func New(cfg Config, deps Deps) (*Server, error) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	limit := rate.Inf
	if cfg.SubmitRPS > 0 {
		limit = rate.Limit(cfg.SubmitRPS)
	}
	burst := cfg.SubmitBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		grpcServer: grpcServer,
		health:     healthServer,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     deps.Logger,
	}

	handler, err := s.Handler()
	if err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// SetServing flips the gRPC health status once recovery has finished.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// ServeGRPC blocks until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.cfg.GRPCAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// ServeHTTP blocks until ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the HTTP surface: API routes on the gateway mux plus the
// health and metrics endpoints.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.deps.Health != nil {
		httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	}
	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", mux)
	return httpMux, nil
}
