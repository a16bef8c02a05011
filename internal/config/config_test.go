package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "karayouke-server", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, 5, cfg.SessionCodeLength)
	assert.Equal(t, 25*time.Second, cfg.QueueWaitTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.QueueWaitPollInterval)
	assert.Equal(t, ":8000", cfg.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("QUEUE_WAIT_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.QueueWaitTimeout)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("PORT", "0")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("PORT", "70000")
	_, err = Load()
	require.Error(t, err)
}
