package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Redis.Host)
	assert.Equal(t, "6379", cfg.Redis.Port)
	assert.Equal(t, "release", cfg.Server.Mode)

	assert.Equal(t, 5, cfg.Pool.MinSize)
	assert.Equal(t, 20, cfg.Pool.MaxSize)
	assert.Equal(t, 60, cfg.Pool.IdleTimeout)
	assert.Equal(t, 10, cfg.Pool.AcquireTimeout)

	assert.Equal(t, 300, cfg.Cache.DefaultTTL)
	assert.Equal(t, 900, cfg.Cache.CategoryTTL["auth:login"])
	assert.Equal(t, 600, cfg.Cache.CategoryTTL["user:profile"])
	assert.Equal(t, 300, cfg.Cache.CategoryTTL["query:result"])
	assert.Equal(t, 1.05, cfg.Cache.HitMultiplier)
	assert.Equal(t, 0.95, cfg.Cache.MissMultiplier)
	assert.Equal(t, 3.0, cfg.Cache.MaxMultiplier)
	assert.Equal(t, 0.5, cfg.Cache.MinMultiplier)
	assert.Equal(t, 10000, cfg.Cache.StatsMaxKeys)
	assert.False(t, cfg.Cache.SingleFlight)

	assert.Equal(t, 86400, cfg.Token.Expiry)
	assert.Equal(t, 1800, cfg.Token.VerificationTTL)
	assert.Equal(t, 100, cfg.Monitor.SlowQueryThresholdMs)
	assert.Equal(t, 100, cfg.Bulk.MaxBatch)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("SERVER_MODE", "debug")
	t.Setenv("POOL_MAX_SIZE", "50")
	t.Setenv("CACHE_SINGLE_FLIGHT", "true")
	t.Setenv("TOKEN_SECRET", "env-secret")
	t.Setenv("RATELIMIT_BURST", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, "6380", cfg.Redis.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 50, cfg.Pool.MaxSize)
	assert.True(t, cfg.Cache.SingleFlight)
	assert.Equal(t, "env-secret", cfg.Token.Secret)
	assert.Equal(t, 5, cfg.RateLimit.Burst)

	// Untouched keys keep their defaults
	assert.Equal(t, 5, cfg.Pool.MinSize)
}
