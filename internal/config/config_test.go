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

	assert.Equal(t, 3*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 3, cfg.Poller.ContentRetries)
	assert.Equal(t, time.Hour, cfg.Cache.ContentTTL)
	assert.False(t, cfg.Gateway.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BRIEFING_BASE_URL", "http://briefing.internal:9000/")
	t.Setenv("POLLER_INTERVAL", "500ms")
	t.Setenv("RATELIMIT_GENERATE_PER_HOUR", "3")
	t.Setenv("GATEWAY_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://briefing.internal:9000", cfg.Briefing.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Poller.Interval)
	assert.Equal(t, 3, cfg.RateLimit.GeneratePerHour)
	assert.True(t, cfg.Gateway.Enabled)
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
}
