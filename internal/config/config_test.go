package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PredictLedger/internal/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, event.DefaultGameConfig(), cfg.Game)
	assert.False(t, cfg.EventLogEnabled())
	assert.False(t, cfg.NATSEnabled())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "predictd.yaml", `
log_level: debug
server:
  http_addr: ":9000"
  submit_rps: 20
store:
  driver: sqlite
  sqlite_path: /var/lib/predict/state.db
core:
  persist_flush_timeout: 20ms
  snapshot_interval: 1m
game:
  initial_player_tokens: 5000000000
  daily_login_reward: 10000000
  market_creation_cost: 1000000
  max_outcomes_per_market: 4
  min_market_duration_seconds: 60
  oracle_voting_duration_seconds: 600
  trading_fee_bps: 100
  creator_rebate_bps: 0
  admin: 6ba7b810-9dad-11d1-80b4-00c04fd430c8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr, "unset keys keep defaults")
	assert.Equal(t, 20.0, cfg.Server.SubmitRPS)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 20*time.Millisecond, cfg.Core.PersistFlushTimeout)
	assert.Equal(t, time.Minute, cfg.Core.SnapshotInterval)
	assert.Equal(t, int64(5_000_000_000), cfg.Game.InitialPlayerTokens)
	assert.Equal(t, uint32(4), cfg.Game.MaxOutcomesPerMarket)
	require.NotNil(t, cfg.Game.Admin)
	assert.Equal(t, uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), *cfg.Game.Admin)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "predictd.toml", `
log_level = "warn"

[store]
driver = "redis"

[store.redis]
addr = "redis:6379"
namespace = "test:"

[nats]
url = "nats://nats:4222"

[core]
snapshot_interval = "30s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "test:", cfg.Store.Redis.Namespace)
	assert.Equal(t, 10, cfg.Store.Redis.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Core.SnapshotInterval)
	assert.True(t, cfg.NATSEnabled())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "predictd.yaml", "server:\n  http_addr: \":9000\"\n")
	admin := uuid.New()

	t.Setenv("PREDICT_HTTP_ADDR", ":7000")
	t.Setenv("PREDICT_POSTGRES_DSN", "postgres://localhost/predict")
	t.Setenv("PREDICT_SNAPSHOT_INTERVAL", "2h")
	t.Setenv("PREDICT_PERSIST_BATCH_SIZE", "not-a-number")
	t.Setenv("PREDICT_GAME_ADMIN", admin.String())

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.HTTPAddr)
	assert.True(t, cfg.EventLogEnabled())
	assert.Equal(t, 2*time.Hour, cfg.Core.SnapshotInterval)
	assert.Equal(t, 256, cfg.Core.PersistBatchSize, "unparseable override is ignored")
	require.NotNil(t, cfg.Game.Admin)
	assert.Equal(t, admin, *cfg.Game.Admin)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PREDICT_GRPC_ADDR=:9999\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Cleanup(func() { os.Unsetenv("PREDICT_GRPC_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.GRPCAddr)
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown yaml key", "c.yaml", "serverr:\n  http_addr: x\n"},
		{"unknown toml key", "c.toml", "[server]\nhttp_adr = \"x\"\n"},
		{"unsupported extension", "c.json", "{}"},
		{"bad driver", "c.yaml", "store:\n  driver: etcd\n"},
		{"sqlite without path", "c.yaml", "store:\n  driver: sqlite\n"},
		{"postgres store without dsn", "c.yaml", "store:\n  driver: postgres\n"},
		{"bad log level", "c.yaml", "log_level: trace\n"},
		{"fee out of range", "c.yaml", "game:\n  trading_fee_bps: 10000\n"},
		{"too few outcomes", "c.toml", "[game]\nmax_outcomes_per_market = 1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
