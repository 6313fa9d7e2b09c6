package backend

import (
	"context"
	"time"
)

// Conn is the minimal cache backend protocol: string get/set with
// expiration, multi-key delete and cursor-based keyspace scanning.
// Any backend implementing these commands is sufficient.
type Conn interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a new backend connection. The pool calls it on
// initialization and whenever the live count falls below the minimum.
type Dialer func(ctx context.Context) (Conn, error)
