package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PredictLedger/internal/config"
	"PredictLedger/internal/core"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/notify"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"PredictLedger/internal/server"
	"PredictLedger/internal/store"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "predictd: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLoggerWithLevel("predictd", observability.ParseLevel(cfg.LogLevel))

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("store", cfg.Store.Driver).
		Bool("event_log", cfg.EventLogEnabled()).
		Bool("nats", cfg.NATSEnabled()).
		Msg("PredictLedger starting")

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("predictd exited with error")
	}
	logger.Info().Msg("PredictLedger shutdown complete")
}

// run wires the process. The sequencer and every ingress surface live in
// one errgroup; the output workers live in a second one that only stops
// once the sequencer has exited and the output channels are closed, so
// nothing the core emitted is lost on a clean shutdown.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Postgres (operation log, snapshots, projections) ---
	var db *sql.DB
	if cfg.EventLogEnabled() {
		var err error
		db, err = openPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		health.AddCheck("postgres", db.PingContext)
	}

	// --- State store ---
	kv, err := openStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer kv.Close()
	health.AddCheck("store", func(ctx context.Context) error {
		_, err := kv.Get(ctx, core.KeySequence)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATSEnabled() {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATS.URL, logger.With().Str("component", "nats").Logger())
		if err != nil {
			return err
		}
		defer nc.Close()
		js = stream
		if err := ingestion.EnsureRequestStream(ctx, js, cfg.NATS.RequestSubject); err != nil {
			return err
		}
		if err := notify.EnsureNotificationStream(ctx, js, cfg.NATS.NotificationSubject); err != nil {
			return err
		}
		health.AddCheck("nats", ingestion.StreamCheck(js))
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
	}

	// --- Channels ---
	// Persist blocks (backpressure), projection drops when full.
	var persistCh, projectionCh chan core.CoreOutput
	if db != nil {
		persistCh = make(chan core.CoreOutput, cfg.Core.PersistChanSize)
		projectionCh = make(chan core.CoreOutput, cfg.Core.ProjectionChanSize)
	}
	notifyCh := make(chan core.CoreOutput, cfg.Core.NotifyChanSize)

	// --- Deterministic core ---
	coreLogger := logger.With().Str("component", "core").Logger()
	opts := core.Options{
		LRUCapacity: cfg.Core.LRUCapacity,
		Metrics:     metrics,
		Logger:      &coreLogger,
	}
	if db != nil {
		opts.DBChecker = persistence.NewPostgresIdempotencyChecker(db)
	}
	c := core.NewDeterministicCore(kv, core.Outputs{
		Persist:    persistCh,
		Projection: projectionCh,
		Notify:     notifyCh,
	}, opts)

	// --- Output workers ---
	var workers errgroup.Group
	if db != nil {
		pw := persistence.NewPersistenceWorker(db, persistCh, cfg.Core.PersistBatchSize, cfg.Core.PersistFlushTimeout,
			metrics, logger.With().Str("component", "persistence").Logger())
		workers.Go(func() error { return pw.Run(context.Background()) })

		proj := projection.NewProjectionWorker(db, projectionCh, metrics, logger.With().Str("component", "projection").Logger())
		workers.Go(func() error { return proj.Run(context.Background()) })
	}
	var notifier notify.Notifier = notify.NewLogNotifier(logger.With().Str("component", "notify").Logger())
	if js != nil {
		notifier = notify.NewJetStreamNotifier(js, cfg.NATS.NotificationSubject)
	}
	nw := notify.NewWorker(notifier, notifyCh, notify.DefaultRetryPolicy(), metrics, logger.With().Str("component", "notify").Logger())
	workers.Go(func() error { return nw.Run(context.Background()) })

	drain := func() error {
		if persistCh != nil {
			close(persistCh)
			close(projectionCh)
		}
		close(notifyCh)
		return workers.Wait()
	}

	// --- Recovery ---
	var snapMgr *persistence.SnapshotManager
	recovery := persistence.Recovery{
		PageSize: cfg.Core.RecoveryPageSize,
		Metrics:  metrics,
		Logger:   logger.With().Str("component", "recovery").Logger(),
	}
	if db != nil {
		snapMgr = persistence.NewSnapshotManager(db)
		recovery.Snapshots = snapMgr
		recovery.Log = snapMgr
	}
	if err := recovery.Run(ctx, c, cfg.Game); err != nil {
		_ = drain()
		return fmt.Errorf("recovery: %w", err)
	}

	// --- Sequencer and ingress ---
	ingressCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ingressCtx)

	queue := make(chan ingestion.Submission, cfg.Core.SubmitQueueSize)
	sequencer := ingestion.NewSequencer(c, queue, metrics, logger.With().Str("component", "sequencer").Logger())
	g.Go(func() error { return sequencer.Run(gctx) })

	if js != nil {
		sub := ingestion.NewNATSSubscriber(js, queue, metrics, logger.With().Str("component", "nats").Logger())
		scfg := ingestion.DefaultSubscriberConfig()
		scfg.Subject = cfg.NATS.RequestSubject + ".>"
		scfg.ConsumerName = cfg.NATS.ConsumerName
		if err := sub.Subscribe(gctx, scfg); err != nil {
			cancel()
			_ = g.Wait()
			_ = drain()
			return err
		}
		defer sub.Stop()
	}

	deps := server.Deps{
		Query:     query.NewQueryService(kv, sequencer, db, metrics),
		Submitter: ingestion.NewSubmitter(queue, "http"),
		Health:    health,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    logger.With().Str("component", "server").Logger(),
	}
	if snapMgr != nil {
		snapshotter := persistence.NewSnapshotter(snapMgr, c, sequencer, cfg.Core.SnapshotInterval, cfg.Core.SnapshotKeep,
			metrics, logger.With().Str("component", "snapshot").Logger())
		g.Go(func() error { return snapshotter.Run(gctx) })
		deps.Snapshots = snapshotter
		deps.Log = snapMgr
	}

	srv, err := server.New(server.Config{
		GRPCAddr:    cfg.Server.GRPCAddr,
		HTTPAddr:    cfg.Server.HTTPAddr,
		SubmitRPS:   cfg.Server.SubmitRPS,
		SubmitBurst: cfg.Server.SubmitBurst,
	}, deps)
	if err != nil {
		cancel()
		_ = g.Wait()
		_ = drain()
		return err
	}
	g.Go(func() error { return srv.ServeGRPC(gctx) })
	g.Go(func() error { return srv.ServeHTTP(gctx) })

	srv.SetServing(true)
	health.SetReady(true)
	logger.Info().
		Int64("sequence", c.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Msg("PredictLedger ready")

	err = g.Wait()
	health.SetReady(false)

	// The sequencer has exited: nothing sends on the output channels.
	if derr := drain(); derr != nil {
		logger.Error().Err(derr).Msg("output worker failed")
	}

	if snapMgr != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		final := persistence.NewSnapshotter(snapMgr, c, stopped{}, 0, cfg.Core.SnapshotKeep, metrics, logger)
		if seq, serr := final.TakeSnapshot(shutdownCtx); serr != nil {
			logger.Error().Err(serr).Msg("final snapshot failed")
		} else {
			logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
		}
	}
	return err
}

// stopped runs fn inline. Valid only once the sequencer has exited.
type stopped struct{}

func (stopped) Do(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

func openPostgres(ctx context.Context, cfg config.PostgresConfig, logger zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, os.DirFS(cfg.MigrationsDir), logger.With().Str("component", "migrate").Logger())
	applied, err := migrator.Up(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")
	return db, nil
}

func openStore(ctx context.Context, cfg *config.Config, db *sql.DB) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return store.NewPostgresStore(db), nil
	case config.DriverRedis:
		r := cfg.Store.Redis
		return store.NewRedisStore(ctx, store.RedisConfig{
			Addr:       r.Addr,
			Password:   r.Password,
			DB:         r.DB,
			PoolSize:   r.PoolSize,
			MaxRetries: r.MaxRetries,
			TLSEnabled: r.TLSEnabled,
			Namespace:  r.Namespace,
		})
	case config.DriverSQLite:
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return store.NewMemoryStore(), nil
	}
}
