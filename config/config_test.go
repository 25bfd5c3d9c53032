package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Reconciler.Interval)
	assert.Equal(t, 4, cfg.Reconciler.Workers)
	assert.Equal(t, int64(1), cfg.IDs.Node)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: a YAML file and an env override
	path := filepath.Join(t.TempDir(), "commission.yaml")
	yaml := `
server:
  port: 9090
database:
  driver: memory
reconciler:
  interval: 15m
  workers: 8
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("COMMISSION_RECONCILER_WORKERS", "2")

	// WHEN: loading
	cfg, err := Load(New(), path)

	// THEN: env beats file, file beats defaults
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Reconciler.Interval)
	assert.Equal(t, 2, cfg.Reconciler.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	v := New()
	v.Set("server.port", 0)
	v.Set("database.driver", "oracle")
	v.Set("ids.node", 5000)

	_, err := Load(v, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "ids.node")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
