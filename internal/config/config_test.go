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

	assert.Equal(t, "cmd-gateway", cfg.Service.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 24*time.Hour, cfg.Approval.RequestTTL)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("APPROVAL_REQUEST_TTL", "1h")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, time.Hour, cfg.Approval.RequestTTL)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("APPROVAL_REQUEST_TTL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}
