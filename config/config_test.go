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
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Verification.TTL)
	assert.Equal(t, "http://localhost:3000/verify", cfg.Verification.LinkBaseURL)
	assert.Equal(t, 8, cfg.Claims.TrackingAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.Claims.CredentialTTL)
	assert.Equal(t, "log", cfg.Mail.Driver)
	assert.InDelta(t, 5.0, cfg.Mail.RatePerSec, 0.001)
	assert.Equal(t, uint64(3), cfg.Mail.MaxRetries)
	assert.InDelta(t, 20.0, cfg.Tracking.RatePerMinute, 0.001)
	assert.Equal(t, 5, cfg.Tracking.Burst)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 20, cfg.Outbox.BatchSize)
	assert.Equal(t, 5, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  database_url: postgres://localhost/realty
server:
  port: 9090
verification:
  ttl: 2h
mail:
  driver: webhook
  webhook_url: https://mail.internal/send
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/realty", cfg.Store.DatabaseURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Verification.TTL)
	assert.Equal(t, "webhook", cfg.Mail.Driver)
	assert.Equal(t, "https://mail.internal/send", cfg.Mail.WebhookURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REALTY_SERVER_PORT", "7070")
	t.Setenv("REALTY_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("REALTY_OUTBOX_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 250*time.Millisecond, cfg.Outbox.PollInterval)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Error(t, cfg.Validate(), "missing database url")

	cfg.Store.DatabaseURL = "postgres://localhost/realty"
	assert.Error(t, cfg.Validate(), "missing jwt secret")

	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.Mail.Driver = "webhook"
	assert.Error(t, cfg.Validate(), "webhook without url")

	cfg.Mail.Driver = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
