package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PredictLedger/internal/config"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate [-config file] <up|down|version|rebuild-projections>")
	fmt.Println("  up                   - apply all pending migrations")
	fmt.Println("  down                 - roll back the last migration")
	fmt.Println("  version              - print the latest applied migration")
	fmt.Println("  rebuild-projections  - truncate and refill projections from the operation log")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  PREDICT_POSTGRES_DSN    - Postgres connection string (required)")
	fmt.Println("  PREDICT_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
}

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if !cfg.EventLogEnabled() {
		logger.Fatal().Msg("PREDICT_POSTGRES_DSN is not set")
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrator := persistence.NewMigrator(db, os.DirFS(cfg.Postgres.MigrationsDir), logger)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Int("applied", n).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		rolled, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if !rolled {
			logger.Info().Msg("nothing to roll back")
			return
		}
		logger.Info().Msg("last migration rolled back")

	case "version":
		v, err := migrator.Version(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read version")
		}
		if v == "" {
			v = "none"
		}
		fmt.Println(v)

	case "rebuild-projections":
		last, err := projection.RebuildProjections(ctx, db, persistence.NewSnapshotManager(db), cfg.Game, logger)
		if err != nil {
			logger.Fatal().Err(err).Int64("sequence", last).Msg("rebuild projections")
		}
		logger.Info().Int64("sequence", last).Msg("projections rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}
