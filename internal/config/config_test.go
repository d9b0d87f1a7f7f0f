package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEY_PREFIX", "")
	t.Setenv("BULK_MAX_ITEMS", "")
	t.Setenv("ENVIRONMENT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pct_", cfg.APIKeyPrefix)
	assert.Equal(t, 100, cfg.BulkMaxItems)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_KEY_PREFIX", "tst_")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("WEBHOOK_RATE_LIMIT_RPS", "2.5")
	t.Setenv("DB_MAX_OPEN_CONNS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tst_", cfg.APIKeyPrefix)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.InDelta(t, 2.5, cfg.WebhookRateLimitRPS, 0.0001)
	assert.Equal(t, 20, cfg.DBMaxOpenConns, "unparsable values fall back")
}

func TestValidate(t *testing.T) {
	cfg := &Config{APIKeyPrefix: "pct_", BulkMaxItems: 100, Environment: "production", JWTSecret: "change-me-in-production"}
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())

	cfg.BulkMaxItems = 0
	assert.Error(t, cfg.Validate())

	cfg.BulkMaxItems = MaxBulkItems
	assert.NoError(t, cfg.Validate())

	cfg.BulkMaxItems = MaxBulkItems + 1
	assert.EqualError(t, cfg.Validate(), "BULK_MAX_ITEMS must be between 1 and 100, got 101")
}
