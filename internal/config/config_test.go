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

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// No config.yaml or .env in a fresh temp dir
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout())
	assert.InDelta(t, 10.0, cfg.API.RateLimit, 0.001)
	assert.Equal(t, 5, cfg.API.Burst)
	assert.Equal(t, 3, cfg.API.RetryAttempts)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "leasebee.db", cfg.Storage.Path)
	assert.Equal(t, "leasebee_review_progress", cfg.Storage.KeyPrefix)
	assert.Equal(t, 7*24*time.Hour, cfg.Review.MaxAge())
	assert.Equal(t, 500*time.Millisecond, cfg.Review.Debounce())
	assert.Equal(t, 4, cfg.Review.SubmitConcurrency)
	assert.Equal(t, 1000, cfg.Poll.ProgressIntervalMS)
	assert.Equal(t, 2000, cfg.Poll.StatusIntervalMS)
	assert.Equal(t, 1000, cfg.Poll.CompletionGraceMS)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Server.TrackerTTLSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.NoError(t, cfg.Validate("client"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
api:
  base_url: https://leasebee.example.com
storage:
  driver: redis
  redis_url: redis://localhost:6379/2
review:
  debounce_ms: 250
log:
  level: debug
  format: console
server:
  port: 9090
  allowed_origins:
    - http://localhost:5173
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://leasebee.example.com", cfg.API.BaseURL)
	assert.Equal(t, "redis", cfg.Storage.Driver)
	assert.Equal(t, "redis://localhost:6379/2", cfg.Storage.RedisURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Review.Debounce())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	// Defaults still apply for unset values
	assert.Equal(t, 168, cfg.Review.MaxAgeHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
storage:
  driver: memory
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("LEASEBEE_STORAGE_DRIVER", "sqlite")
	t.Setenv("LEASEBEE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEASEBEE_API_TOKEN=secret-token\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LEASEBEE_API_TOKEN") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.API.Token)
}

func TestLoadDotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEASEBEE_SERVER_PORT=1111\n"), 0o600))
	t.Setenv("LEASEBEE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.API.BaseURL = "http://localhost:8000"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = "leasebee.db"
	cfg.Review.MaxAgeHours = 168
	cfg.Review.DebounceMS = 500
	cfg.Review.SubmitConcurrency = 4
	cfg.Server.Port = 8000
	cfg.Server.TrackerTTLSecs = 60
	return cfg
}

func TestValidateClient_Storage(t *testing.T) {
	cfg := validDefaults()
	cfg.Storage.Driver = "redis"

	err := cfg.Validate("client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.redis_url is required")

	cfg.Storage.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate("client"))

	cfg.Storage.Driver = "dynamo"
	err = cfg.Validate("client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `storage.driver "dynamo"`)
}

func TestValidateClient_Review(t *testing.T) {
	cfg := validDefaults()
	cfg.Review.MaxAgeHours = 0
	cfg.Review.SubmitConcurrency = 0

	err := cfg.Validate("client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review.max_age_hours must be > 0")
	assert.Contains(t, err.Error(), "review.submit_concurrency must be between 1 and 32")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
