package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.ExecutionTimeout)
	assert.Equal(t, "*/10 * * * *", cfg.Lifecycle.SweepSchedule)
	assert.False(t, cfg.Resolver.CacheEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("WARDEN_PORT", "3000")
	t.Setenv("WARDEN_EXECUTION_TIMEOUT", "5s")
	t.Setenv("WARDEN_RESOLVER_CACHE_ENABLED", "true")
	t.Setenv("WARDEN_RESOLVER_CACHE_TTL", "1m")
	t.Setenv("WARDEN_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.ExecutionTimeout)
	assert.True(t, cfg.Resolver.CacheEnabled)
	assert.Equal(t, time.Minute, cfg.Resolver.CacheTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("WARDEN_EXECUTION_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.ExecutionTimeout)
}

func TestLoad_SeedSpaces(t *testing.T) {
	t.Setenv("WARDEN_SEED_SPACES", "SUPPORT=space-support, EXECUTIVE=space-exec,malformed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"SUPPORT":   "space-support",
		"EXECUTIVE": "space-exec",
	}, cfg.SeedSpaces)
}

func TestValidate(t *testing.T) {
	t.Run("same ports", func(t *testing.T) {
		t.Setenv("WARDEN_HEALTH_PORT", "8080")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("cache enabled needs size", func(t *testing.T) {
		t.Setenv("WARDEN_RESOLVER_CACHE_ENABLED", "true")
		t.Setenv("WARDEN_RESOLVER_CACHE_SIZE", "0")
		_, err := Load()
		require.Error(t, err)
	})
}
