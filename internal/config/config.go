// Package config loads predictd settings from a YAML or TOML file, a
// .env file and PREDICT_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"PredictLedger/internal/event"
	"PredictLedger/internal/state"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Config struct {
	LogLevel string         `yaml:"log_level" toml:"log_level" validate:"oneof=debug info warn error"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	NATS     NATSConfig     `yaml:"nats" toml:"nats"`
	Core     CoreConfig     `yaml:"core" toml:"core"`

	// Game seeds an empty store. A running ledger changes it only through
	// UpdateGameConfig.
	Game event.GameConfig `yaml:"game" toml:"game"`
}

type ServerConfig struct {
	GRPCAddr    string  `yaml:"grpc_addr" toml:"grpc_addr" validate:"required"`
	HTTPAddr    string  `yaml:"http_addr" toml:"http_addr" validate:"required"`
	SubmitRPS   float64 `yaml:"submit_rps" toml:"submit_rps" validate:"gte=0"`
	SubmitBurst int     `yaml:"submit_burst" toml:"submit_burst" validate:"gte=0"`
}

type StoreConfig struct {
	Driver     string      `yaml:"driver" toml:"driver" validate:"oneof=memory postgres redis sqlite"`
	SQLitePath string      `yaml:"sqlite_path" toml:"sqlite_path" validate:"required_if=Driver sqlite"`
	Redis      RedisConfig `yaml:"redis" toml:"redis"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr" toml:"addr"`
	Password   string `yaml:"password" toml:"password"`
	DB         int    `yaml:"db" toml:"db" validate:"gte=0"`
	PoolSize   int    `yaml:"pool_size" toml:"pool_size" validate:"gte=0"`
	MaxRetries int    `yaml:"max_retries" toml:"max_retries" validate:"gte=0"`
	TLSEnabled bool   `yaml:"tls_enabled" toml:"tls_enabled"`
	Namespace  string `yaml:"namespace" toml:"namespace"`
}

// PostgresConfig points at the operation log database. An empty DSN runs
// without the log, projections or snapshots.
type PostgresConfig struct {
	DSN           string        `yaml:"dsn" toml:"dsn"`
	MigrationsDir string        `yaml:"migrations_dir" toml:"migrations_dir"`
	MaxOpenConns  int           `yaml:"max_open_conns" toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns  int           `yaml:"max_idle_conns" toml:"max_idle_conns" validate:"gte=0"`
	ConnLifetime  time.Duration `yaml:"conn_lifetime" toml:"conn_lifetime"`
}

// NATSConfig enables JetStream ingestion and notifications. An empty URL
// disables both.
type NATSConfig struct {
	URL                 string `yaml:"url" toml:"url"`
	RequestSubject      string `yaml:"request_subject" toml:"request_subject"`
	NotificationSubject string `yaml:"notification_subject" toml:"notification_subject"`
	ConsumerName        string `yaml:"consumer_name" toml:"consumer_name"`
}

type CoreConfig struct {
	SubmitQueueSize     int           `yaml:"submit_queue_size" toml:"submit_queue_size" validate:"gte=0"`
	PersistChanSize     int           `yaml:"persist_chan_size" toml:"persist_chan_size" validate:"gte=0"`
	ProjectionChanSize  int           `yaml:"projection_chan_size" toml:"projection_chan_size" validate:"gte=0"`
	NotifyChanSize      int           `yaml:"notify_chan_size" toml:"notify_chan_size" validate:"gte=0"`
	LRUCapacity         int           `yaml:"lru_capacity" toml:"lru_capacity" validate:"gte=0"`
	PersistBatchSize    int           `yaml:"persist_batch_size" toml:"persist_batch_size" validate:"gte=0"`
	PersistFlushTimeout time.Duration `yaml:"persist_flush_timeout" toml:"persist_flush_timeout"`
	SnapshotInterval    time.Duration `yaml:"snapshot_interval" toml:"snapshot_interval"`
	SnapshotKeep        int           `yaml:"snapshot_keep" toml:"snapshot_keep" validate:"gte=0"`
	RecoveryPageSize    int           `yaml:"recovery_page_size" toml:"recovery_page_size" validate:"gte=0"`
}

func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			GRPCAddr:    ":9090",
			HTTPAddr:    ":8080",
			SubmitRPS:   500,
			SubmitBurst: 100,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Addr:       "localhost:6379",
				PoolSize:   10,
				MaxRetries: 3,
				Namespace:  "predict:",
			},
		},
		Postgres: PostgresConfig{
			MigrationsDir: "migrations",
			MaxOpenConns:  20,
			MaxIdleConns:  10,
			ConnLifetime:  5 * time.Minute,
		},
		NATS: NATSConfig{
			RequestSubject:      "predict.requests",
			NotificationSubject: "predict.notifications",
			ConsumerName:        "predict-ledger",
		},
		Core: CoreConfig{
			SubmitQueueSize:     4096,
			PersistChanSize:     1024,
			ProjectionChanSize:  2048,
			NotifyChanSize:      1024,
			LRUCapacity:         100_000,
			PersistBatchSize:    256,
			PersistFlushTimeout: 50 * time.Millisecond,
			SnapshotInterval:    10 * time.Minute,
			SnapshotKeep:        3,
			RecoveryPageSize:    1000,
		},
		Game: event.DefaultGameConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A missing .env file is ignored.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	_ = godotenv.Load()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: parse YAML %q: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("config: parse TOML %q: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config: unknown TOML key %q in %q", undecoded[0].String(), path)
		}
	default:
		return fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
	return nil
}

// Validate checks struct tags, the genesis economy and cross-section rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := state.ValidateGameConfig(c.Game); err != nil {
		return fmt.Errorf("config: game: %w", err)
	}
	if c.Store.Driver == DriverPostgres && c.Postgres.DSN == "" {
		return errors.New("config: store driver postgres needs postgres.dsn")
	}
	if c.Store.Driver == DriverRedis && c.Store.Redis.Addr == "" {
		return errors.New("config: store driver redis needs store.redis.addr")
	}
	return nil
}

// EventLogEnabled reports whether an operation log database is configured.
func (c *Config) EventLogEnabled() bool { return c.Postgres.DSN != "" }

// NATSEnabled reports whether JetStream ingestion and notifications run.
func (c *Config) NATSEnabled() bool { return c.NATS.URL != "" }
