package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigMissing)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://epass:secret@db:5432/epass?sslmode=disable")
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_TIMEOUT", "")
	t.Setenv("VERIFY_RATE_LIMIT", "")
	t.Setenv("VERIFY_RATE_WINDOW", "")
	t.Setenv("RATE_LIMIT_SWEEP", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.DBTimeout)
	assert.Equal(t, 60, cfg.VerifyRateLimit)
	assert.Equal(t, time.Minute, cfg.VerifyRateWindow)
	assert.Equal(t, 60*time.Second, cfg.RateLimitSweep)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/epass")
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_TIMEOUT", "2s")
	t.Setenv("VERIFY_RATE_LIMIT", "5")
	t.Setenv("VERIFY_RATE_WINDOW", "10s")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.DBTimeout)
	assert.Equal(t, 5, cfg.VerifyRateLimit)
	assert.Equal(t, 10*time.Second, cfg.VerifyRateWindow)
	assert.True(t, cfg.DevMode)
}

func TestLoad_InvalidNumbers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/epass")

	t.Run("rate limit", func(t *testing.T) {
		t.Setenv("VERIFY_RATE_LIMIT", "lots")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("timeout", func(t *testing.T) {
		t.Setenv("DB_TIMEOUT", "-1s")
		_, err := Load()
		assert.Error(t, err)
	})
}
