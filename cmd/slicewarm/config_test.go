package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "svr2", cfg.Namespace)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, []string{"high", "default", "low"}, cfg.Queue.Channels)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slicewarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
namespace: app
redis:
  connections:
    default:
      addr: redis-a:6379
    stats:
      addr: redis-b:6379
      pool_size: 4
queue:
  connection: stats
  poll: 250ms
cache:
  default_ttl: 10m
  refresh_advance: 2m
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.Namespace)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.Poll)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, "high", cfg.Cache.RefreshChannel, "unset keys keep defaults")

	opts := cfg.RedisOptions()
	require.Contains(t, opts, "stats")
	assert.Equal(t, "redis-b:6379", opts["stats"].Addr)
	assert.Equal(t, 4, opts["stats"].PoolSize)
}

func TestEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{"SLICEWARM_REDIS_ADDR": "10.0.0.1:6379", "SLICEWARM_LOG_LEVEL": "DEBUG"}
	applyEnv(&cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	assert.Equal(t, "10.0.0.1:6379", cfg.Redis.Connections["default"].Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.RefreshAdvance = cfg.Cache.DefaultTTL
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Queue.Connection = "missing"
	assert.Error(t, cfg.Validate())
}

func TestEcho(t *testing.T) {
	recs, err := echo(context.Background(), []any{"a", "b"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1]["value"])
}
