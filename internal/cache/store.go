package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/backend"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/pool"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/stats"
)

const scanPageSize = 100

// Store performs cache reads and writes over pooled connections.
//
// Every operation is fail-soft: a backend failure is logged and
// reported as a benign absent/false result, never as an error. A cache
// outage degrades performance, not correctness, of the caller.
type Store struct {
	pool      *pool.Pool
	recorder  *stats.Recorder
	logger    *logrus.Logger
	prefix    string
	opTimeout time.Duration
	sf        *singleflight.Group
}

// Option configures a Store
type Option func(*Store)

// WithKeyPrefix namespaces every key under prefix
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithSingleFlight collapses concurrent GetOrCompute calls for the
// same key into a single computation. Off by default: concurrent
// misses may each invoke their compute function.
func WithSingleFlight() Option {
	return func(s *Store) { s.sf = &singleflight.Group{} }
}

// WithOperationTimeout bounds each backend round-trip
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// NewStore creates a cache store on top of the given pool
func NewStore(p *pool.Pool, recorder *stats.Recorder, logger *logrus.Logger, opts ...Option) *Store {
	s := &Store{
		pool:      p,
		recorder:  recorder,
		logger:    logger,
		opTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the raw value stored under key, or absent. Backend
// failures are logged and reported as absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	var val string
	err := s.withConn(ctx, func(conn backend.Conn) error {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		v, err := conn.Get(opCtx, s.namespaced(key))
		val = v
		return err
	})
	if err != nil {
		if !domain.IsNotFound(err) {
			s.warnf("GET", key, "Cache read failed: %v", err)
		}
		s.recorder.RecordMiss(key)
		return nil, false
	}
	s.recorder.RecordHit(key)
	return []byte(val), true
}

// GetJSON reads key and unmarshals it into dest
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.WithFields(logrus.Fields{"operation": "GET", "key": key}).
			Warnf("Cache value unmarshal failed: %v", err)
		return false
	}
	return true
}

// Set serializes value and stores it under key with the given
// expiration. Returns false (and logs) on any failure.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttlSeconds int) bool {
	raw, err := serialize(value)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"operation": "SET", "key": key}).
			Warnf("Cache value marshal failed: %v", err)
		return false
	}

	err = s.withConn(ctx, func(conn backend.Conn) error {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		return conn.Set(opCtx, s.namespaced(key), raw, time.Duration(ttlSeconds)*time.Second)
	})
	if err != nil {
		s.warnf("SET", key, "Cache write failed: %v", err)
		return false
	}
	s.recorder.RecordSet(key)
	return true
}

// Delete removes a single key, fail-soft
func (s *Store) Delete(ctx context.Context, key string) bool {
	err := s.withConn(ctx, func(conn backend.Conn) error {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		return conn.Del(opCtx, s.namespaced(key))
	})
	if err != nil {
		s.warnf("DEL", key, "Cache delete failed: %v", err)
		return false
	}
	return true
}

// DeleteByPattern removes every key matching pattern by walking the
// keyspace with cursor-based scanning, page by page, until the cursor
// wraps around. Returns the number of keys deleted.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) int {
	deleted := 0
	err := s.withConn(ctx, func(conn backend.Conn) error {
		var cursor uint64
		for {
			opCtx, cancel := s.opContext(ctx)
			keys, next, err := conn.Scan(opCtx, cursor, s.namespaced(pattern), scanPageSize)
			cancel()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				opCtx, cancel := s.opContext(ctx)
				err := conn.Del(opCtx, keys...)
				cancel()
				if err != nil {
					return err
				}
				deleted += len(keys)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if err != nil {
		s.warnf("SCAN", pattern, "Pattern delete failed: %v", err)
	}
	if deleted > 0 {
		s.logger.WithFields(logrus.Fields{"operation": "SCAN", "key": pattern}).
			Debugf("Pattern delete removed %d keys", deleted)
	}
	return deleted
}

// GetOrCompute returns the cached value for key, or invokes compute,
// stores a non-empty result under ttlSeconds and returns it. The cache
// layer is never on the critical path: a failed read or write still
// yields the freshly computed value. Only compute errors propagate.
func (s *Store) GetOrCompute(ctx context.Context, key string, ttlSeconds int, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if s.sf != nil {
		v, err, _ := s.sf.Do(key, func() (interface{}, error) {
			return s.getOrCompute(ctx, key, ttlSeconds, compute)
		})
		if err != nil {
			return nil, err
		}
		return v.([]byte), nil
	}
	return s.getOrCompute(ctx, key, ttlSeconds, compute)
}

func (s *Store) getOrCompute(ctx context.Context, key string, ttlSeconds int, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if cached, ok := s.Get(ctx, key); ok {
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if len(value) > 0 {
		s.Set(ctx, key, value, ttlSeconds)
	}
	return value, nil
}

// Ping verifies the backend is reachable through the pool
func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn backend.Conn) error {
		opCtx, cancel := s.opContext(ctx)
		defer cancel()
		return conn.Ping(opCtx)
	})
}

// withConn borrows a connection for one operation and always returns
// it; broken connections are discarded instead of released.
func (s *Store) withConn(ctx context.Context, fn func(backend.Conn) error) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(pc.Conn())
	if err != nil && errors.Is(err, domain.ErrBackendUnavailable) {
		s.pool.Discard(pc)
	} else {
		s.pool.Release(pc)
	}
	return err
}

// warnf logs a failed operation. A closed pool is expected during
// shutdown and is not worth a warning.
func (s *Store) warnf(op, key, format string, err error) {
	if domain.IsPoolClosed(err) {
		return
	}
	s.logger.WithFields(logrus.Fields{"operation": op, "key": key}).Warnf(format, err)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) namespaced(key string) string {
	if s.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func serialize(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
