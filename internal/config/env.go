package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// applyEnvOverrides overwrites fields whose PREDICT_* variable is set and
// parses. Unparseable values are ignored and the file value stays.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "PREDICT_LOG_LEVEL")

	// Server
	setStr(&cfg.Server.GRPCAddr, "PREDICT_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "PREDICT_HTTP_ADDR")
	setFloat64(&cfg.Server.SubmitRPS, "PREDICT_SUBMIT_RPS")
	setInt(&cfg.Server.SubmitBurst, "PREDICT_SUBMIT_BURST")

	// Store
	setStr(&cfg.Store.Driver, "PREDICT_STORE_DRIVER")
	setStr(&cfg.Store.SQLitePath, "PREDICT_SQLITE_PATH")
	setStr(&cfg.Store.Redis.Addr, "PREDICT_REDIS_ADDR")
	setStr(&cfg.Store.Redis.Password, "PREDICT_REDIS_PASSWORD")
	setInt(&cfg.Store.Redis.DB, "PREDICT_REDIS_DB")
	setInt(&cfg.Store.Redis.PoolSize, "PREDICT_REDIS_POOL_SIZE")
	setBool(&cfg.Store.Redis.TLSEnabled, "PREDICT_REDIS_TLS_ENABLED")
	setStr(&cfg.Store.Redis.Namespace, "PREDICT_REDIS_NAMESPACE")

	// Postgres
	setStr(&cfg.Postgres.DSN, "PREDICT_POSTGRES_DSN")
	setStr(&cfg.Postgres.MigrationsDir, "PREDICT_MIGRATIONS_DIR")
	setInt(&cfg.Postgres.MaxOpenConns, "PREDICT_POSTGRES_MAX_OPEN_CONNS")

	// NATS
	setStr(&cfg.NATS.URL, "PREDICT_NATS_URL")
	setStr(&cfg.NATS.RequestSubject, "PREDICT_NATS_REQUEST_SUBJECT")
	setStr(&cfg.NATS.NotificationSubject, "PREDICT_NATS_NOTIFICATION_SUBJECT")
	setStr(&cfg.NATS.ConsumerName, "PREDICT_NATS_CONSUMER")

	// Core
	setInt(&cfg.Core.SubmitQueueSize, "PREDICT_SUBMIT_QUEUE_SIZE")
	setInt(&cfg.Core.PersistChanSize, "PREDICT_PERSIST_CHAN_SIZE")
	setInt(&cfg.Core.ProjectionChanSize, "PREDICT_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Core.NotifyChanSize, "PREDICT_NOTIFY_CHAN_SIZE")
	setInt(&cfg.Core.LRUCapacity, "PREDICT_IDEMPOTENCY_LRU_CAPACITY")
	setInt(&cfg.Core.PersistBatchSize, "PREDICT_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Core.PersistFlushTimeout, "PREDICT_PERSIST_FLUSH_TIMEOUT")
	setDuration(&cfg.Core.SnapshotInterval, "PREDICT_SNAPSHOT_INTERVAL")
	setInt(&cfg.Core.SnapshotKeep, "PREDICT_SNAPSHOT_KEEP")

	// Game
	setUUID(&cfg.Game.Admin, "PREDICT_GAME_ADMIN")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setUUID(dst **uuid.UUID, key string) {
	if v := os.Getenv(key); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			*dst = &id
		}
	}
}
