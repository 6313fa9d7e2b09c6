package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
)

// Config structure to hold backend, pool, cache, token and monitor configurations
type Config struct {
	Redis struct {
		Host      string `mapstructure:"host"`
		Port      string `mapstructure:"port"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
		Timeout   int    `mapstructure:"timeout"`
	} `mapstructure:"redis"`
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
		Mode string `mapstructure:"mode"`
	} `mapstructure:"server"`
	Pool struct {
		MinSize             int `mapstructure:"min_size"`
		MaxSize             int `mapstructure:"max_size"`
		IdleTimeout         int `mapstructure:"idle_timeout"`
		AcquireTimeout      int `mapstructure:"acquire_timeout"`
		MaintenanceInterval int `mapstructure:"maintenance_interval"`
	} `mapstructure:"pool"`
	Cache struct {
		DefaultTTL     int            `mapstructure:"default_ttl"`
		CategoryTTL    map[string]int `mapstructure:"category_ttl"`
		HitMultiplier  float64        `mapstructure:"hit_multiplier"`
		MissMultiplier float64        `mapstructure:"miss_multiplier"`
		MaxMultiplier  float64        `mapstructure:"max_multiplier"`
		MinMultiplier  float64        `mapstructure:"min_multiplier"`
		AdjustInterval int            `mapstructure:"adjust_interval"`
		StatsMaxKeys   int            `mapstructure:"stats_max_keys"`
		SingleFlight   bool           `mapstructure:"single_flight"`
	} `mapstructure:"cache"`
	Token struct {
		Secret          string `mapstructure:"secret"`
		Audience        string `mapstructure:"audience"`
		Issuer          string `mapstructure:"issuer"`
		Expiry          int    `mapstructure:"expiry"`
		VerificationTTL int    `mapstructure:"verification_ttl"`
		CacheSize       int    `mapstructure:"cache_size"`
	} `mapstructure:"token"`
	Monitor struct {
		SlowQueryThresholdMs int `mapstructure:"slow_query_threshold_ms"`
		ReportInterval       int `mapstructure:"report_interval"`
	} `mapstructure:"monitor"`
	Bulk struct {
		MaxBatch        int `mapstructure:"max_batch"`
		FlushIntervalMs int `mapstructure:"flush_interval_ms"`
	} `mapstructure:"bulk"`
	RateLimit struct {
		RequestsPerSecond int `mapstructure:"requests_per_second"`
		Burst             int `mapstructure:"burst"`
	} `mapstructure:"ratelimit"`
}

// LoadConfig reads the configuration from the config file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigUnreadable, err)
		}
	}
	viper.AutomaticEnv()

	// Bind environment variables to specific keys in the config
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.key_prefix", "REDIS_KEY_PREFIX")
	viper.BindEnv("redis.timeout", "REDIS_TIMEOUT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.mode", "SERVER_MODE")
	viper.BindEnv("pool.min_size", "POOL_MIN_SIZE")
	viper.BindEnv("pool.max_size", "POOL_MAX_SIZE")
	viper.BindEnv("pool.idle_timeout", "POOL_IDLE_TIMEOUT")
	viper.BindEnv("pool.acquire_timeout", "POOL_ACQUIRE_TIMEOUT")
	viper.BindEnv("pool.maintenance_interval", "POOL_MAINTENANCE_INTERVAL")
	viper.BindEnv("cache.default_ttl", "CACHE_DEFAULT_TTL")
	viper.BindEnv("cache.hit_multiplier", "CACHE_HIT_MULTIPLIER")
	viper.BindEnv("cache.miss_multiplier", "CACHE_MISS_MULTIPLIER")
	viper.BindEnv("cache.max_multiplier", "CACHE_MAX_MULTIPLIER")
	viper.BindEnv("cache.min_multiplier", "CACHE_MIN_MULTIPLIER")
	viper.BindEnv("cache.adjust_interval", "CACHE_ADJUST_INTERVAL")
	viper.BindEnv("cache.stats_max_keys", "CACHE_STATS_MAX_KEYS")
	viper.BindEnv("cache.single_flight", "CACHE_SINGLE_FLIGHT")
	viper.BindEnv("token.secret", "TOKEN_SECRET")
	viper.BindEnv("token.audience", "TOKEN_AUDIENCE")
	viper.BindEnv("token.issuer", "TOKEN_ISSUER")
	viper.BindEnv("token.expiry", "TOKEN_EXPIRY")
	viper.BindEnv("token.verification_ttl", "TOKEN_VERIFICATION_TTL")
	viper.BindEnv("token.cache_size", "TOKEN_CACHE_SIZE")
	viper.BindEnv("monitor.slow_query_threshold_ms", "MONITOR_SLOW_QUERY_THRESHOLD_MS")
	viper.BindEnv("monitor.report_interval", "MONITOR_REPORT_INTERVAL")
	viper.BindEnv("bulk.max_batch", "BULK_MAX_BATCH")
	viper.BindEnv("bulk.flush_interval_ms", "BULK_FLUSH_INTERVAL_MS")
	viper.BindEnv("ratelimit.requests_per_second", "RATELIMIT_REQUESTS_PER_SECOND")
	viper.BindEnv("ratelimit.burst", "RATELIMIT_BURST")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigUnreadable, err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.timeout", 5)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("pool.min_size", 5)
	viper.SetDefault("pool.max_size", 20)
	viper.SetDefault("pool.idle_timeout", 60)
	viper.SetDefault("pool.acquire_timeout", 10)
	viper.SetDefault("pool.maintenance_interval", 30)
	viper.SetDefault("cache.default_ttl", 300)
	viper.SetDefault("cache.category_ttl", map[string]int{
		"auth:login":   900,
		"user:profile": 600,
		"query:result": 300,
	})
	viper.SetDefault("cache.hit_multiplier", 1.05)
	viper.SetDefault("cache.miss_multiplier", 0.95)
	viper.SetDefault("cache.max_multiplier", 3.0)
	viper.SetDefault("cache.min_multiplier", 0.5)
	viper.SetDefault("cache.adjust_interval", 60)
	viper.SetDefault("cache.stats_max_keys", 10000)
	viper.SetDefault("cache.single_flight", false)
	viper.SetDefault("token.audience", "ntut-madd-app")
	viper.SetDefault("token.issuer", "ntut-madd-backend")
	viper.SetDefault("token.expiry", 86400)
	viper.SetDefault("token.verification_ttl", 1800)
	viper.SetDefault("token.cache_size", 1000)
	viper.SetDefault("monitor.slow_query_threshold_ms", 100)
	viper.SetDefault("monitor.report_interval", 60)
	viper.SetDefault("bulk.max_batch", 100)
	viper.SetDefault("bulk.flush_interval_ms", 500)
	viper.SetDefault("ratelimit.requests_per_second", 10)
	viper.SetDefault("ratelimit.burst", 20)
}
