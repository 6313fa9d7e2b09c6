package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/pool"
)

type opKind int

const (
	opSet opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	key   string
	value string
	ttl   time.Duration
}

// Writer batches set/delete operations and flushes them over a single
// pooled connection once the batch fills up or the flush interval
// fires. Writes are fail-soft: failures are logged and counted, never
// returned to the caller queuing the operation.
type Writer struct {
	pool          *pool.Pool
	logger        *logrus.Logger
	maxBatch      int
	flushInterval time.Duration
	prefix        string

	mu      sync.Mutex
	pending []op

	flushed  int64
	failures int64
}

// Option configures a Writer
type Option func(*Writer)

// WithKeyPrefix namespaces every queued key under prefix, matching the
// cache store that reads the values back.
func WithKeyPrefix(prefix string) Option {
	return func(w *Writer) { w.prefix = prefix }
}

// NewWriter creates a bulk writer
func NewWriter(p *pool.Pool, maxBatch int, flushInterval time.Duration, logger *logrus.Logger, opts ...Option) *Writer {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	w := &Writer{
		pool:          p,
		logger:        logger,
		maxBatch:      maxBatch,
		flushInterval: flushInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// QueueSet enqueues a set operation. The value is serialized now so a
// later mutation of it cannot leak into the flush.
func (w *Writer) QueueSet(key string, value interface{}, ttlSeconds int) {
	raw, err := serialize(value)
	if err != nil {
		w.logger.WithFields(logrus.Fields{"operation": "SET", "key": key}).
			Warnf("Bulk value marshal failed: %v", err)
		atomic.AddInt64(&w.failures, 1)
		return
	}
	w.enqueue(op{kind: opSet, key: w.namespaced(key), value: raw, ttl: time.Duration(ttlSeconds) * time.Second})
}

// QueueDelete enqueues a delete operation
func (w *Writer) QueueDelete(key string) {
	w.enqueue(op{kind: opDelete, key: w.namespaced(key)})
}

func (w *Writer) namespaced(key string) string {
	if w.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", w.prefix, key)
}

func (w *Writer) enqueue(o op) {
	w.mu.Lock()
	w.pending = append(w.pending, o)
	full := len(w.pending) >= w.maxBatch
	w.mu.Unlock()

	if full {
		w.Flush(context.Background())
	}
}

// Flush drains the queue and applies every pending operation over one
// borrowed connection. Returns the number of operations applied.
func (w *Writer) Flush(ctx context.Context) int {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	pc, err := w.pool.Acquire(ctx)
	if err != nil {
		w.logger.Warnf("Bulk flush could not acquire a connection, dropping %d ops: %v", len(batch), err)
		atomic.AddInt64(&w.failures, int64(len(batch)))
		return 0
	}

	applied := 0
	broken := false
	conn := pc.Conn()
	for _, o := range batch {
		var opErr error
		switch o.kind {
		case opSet:
			opErr = conn.Set(ctx, o.key, o.value, o.ttl)
		case opDelete:
			opErr = conn.Del(ctx, o.key)
		}
		if opErr != nil {
			atomic.AddInt64(&w.failures, 1)
			w.logger.WithFields(logrus.Fields{"key": o.key}).
				Warnf("Bulk operation failed: %v", opErr)
			broken = true
			continue
		}
		applied++
	}

	if broken {
		w.pool.Discard(pc)
	} else {
		w.pool.Release(pc)
	}

	atomic.AddInt64(&w.flushed, int64(applied))
	return applied
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs one final flush.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			w.Flush(flushCtx)
			cancel()
			return
		}
	}
}

// Pending returns how many operations are queued
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Failures returns how many operations failed or were dropped
func (w *Writer) Failures() int64 {
	return atomic.LoadInt64(&w.failures)
}

// Flushed returns how many operations were applied successfully
func (w *Writer) Flushed() int64 {
	return atomic.LoadInt64(&w.flushed)
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
