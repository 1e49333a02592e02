package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "redis", cfg.Queue.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 24, cfg.Dedup.WindowHours)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.Window())
	assert.Equal(t, 5*time.Minute, cfg.Dedup.ReservationTimeout())
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Deadline())
	assert.Equal(t, 4, cfg.Fetch.MaxPages)
	assert.Equal(t, "prospector/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 8, cfg.Worker.PoolSize)
	assert.Equal(t, 2*time.Minute, cfg.Worker.TaskDeadline())
	assert.Equal(t, "https://places.googleapis.com/v1", cfg.Places.BaseURL)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: prospector.db
dedup:
  window_hours: 72
worker:
  pool_size: 16
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "prospector.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 72*time.Hour, cfg.Dedup.Window())
	assert.Equal(t, 16, cfg.Worker.PoolSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
worker:
  pool_size: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("PROSPECTOR_WORKER_POOL_SIZE", "32")
	t.Setenv("PROSPECTOR_PLACES_API_KEY", "env-key")
	t.Setenv("PROSPECTOR_STORE_DATABASE_URL", "postgres://db.internal/prospector")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Worker.PoolSize)
	// Keys without a config-file value still surface env overrides.
	assert.Equal(t, "env-key", cfg.Places.APIKey)
	assert.Equal(t, "postgres://db.internal/prospector", cfg.Store.DatabaseURL)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
