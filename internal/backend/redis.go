package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/config"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
)

// Redis wraps a shared go-redis client and hands out dedicated
// per-connection handles for the pool to own.
type Redis struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedis creates the shared Redis client and verifies connectivity
func NewRedis(cfg *config.Config, logger *logrus.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  time.Duration(cfg.Redis.Timeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Redis.Timeout) * time.Second,
		DialTimeout:  time.Duration(cfg.Redis.Timeout) * time.Second,
		MaxRetries:   3,
	})

	testCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Redis.Timeout)*time.Second)
	defer cancel()

	if _, err := client.Ping(testCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	logger.Info("Connected to Redis successfully")

	return &Redis{client: client, logger: logger}, nil
}

// Dialer returns the connection factory used by the pool. Each call
// opens a dedicated connection on top of the shared client.
func (r *Redis) Dialer() Dialer {
	return func(ctx context.Context) (Conn, error) {
		conn := r.client.Conn()
		if err := conn.Ping(ctx).Err(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}
		return &redisConn{conn: conn}, nil
	}
}

// Close closes the shared Redis client
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisConn struct {
	conn *redis.Conn
}

func (c *redisConn) Get(ctx context.Context, key string) (string, error) {
	val, err := c.conn.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", domain.ErrKeyNotFound
	} else if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return val, nil
}

func (c *redisConn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.conn.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (c *redisConn) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.conn.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (c *redisConn) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	keys, next, err := c.conn.Scan(ctx, cursor, match, count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return keys, next, nil
}

func (c *redisConn) Ping(ctx context.Context) error {
	if err := c.conn.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (c *redisConn) Close() error {
	return c.conn.Close()
}

// Ensure redisConn implements Conn
var _ Conn = (*redisConn)(nil)
