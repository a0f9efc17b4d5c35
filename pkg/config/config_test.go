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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "./data/evaluations.db", cfg.SQLite.Path)
	assert.Equal(t, 3, cfg.SQLite.MaxAttempts)
	assert.Equal(t, time.Second, cfg.SQLite.RetryDelay())
	assert.Equal(t, 5*time.Minute, cfg.Stats.CacheTTL())
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, 7, cfg.Backup.MaxBackups)
}

func TestLoadFile_OverridesAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 8088
sqlite:
  path: /tmp/evals/evaluations.db
stats:
  cacheTTLSeconds: 30
rateLimit:
  backend: redis
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("EVAL_DASHBOARD_LOGGING_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "/tmp/evals/evaluations.db", cfg.SQLite.Path)
	assert.Equal(t, 30*time.Second, cfg.Stats.CacheTTL())
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFile_RejectsUnknownRateLimitBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rateLimit:\n  backend: memcached\n"), 0o644))

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "invalid rateLimit.backend")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
