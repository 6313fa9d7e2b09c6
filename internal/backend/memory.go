package backend

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
)

type memoryItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryBackend is an in-process implementation of the cache backend
// protocol. It backs local development and tests; all connections
// share one keyspace, expiry is evaluated lazily on access.
type MemoryBackend struct {
	mu      sync.RWMutex
	items   map[string]memoryItem
	now     func() time.Time
	failing bool
	dials   int64
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Dialer returns the connection factory for this backend
func (b *MemoryBackend) Dialer() Dialer {
	return func(ctx context.Context) (Conn, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failing {
			return nil, domain.ErrBackendUnavailable
		}
		b.dials++
		return &memoryConn{backend: b}, nil
	}
}

// SetFailing toggles a simulated outage: every operation (and every
// new dial) fails with ErrBackendUnavailable while enabled.
func (b *MemoryBackend) SetFailing(failing bool) {
	b.mu.Lock()
	b.failing = failing
	b.mu.Unlock()
}

// SetClock overrides the time source used for expiry
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// Dials reports how many connections have been opened
func (b *MemoryBackend) Dials() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dials
}

// Len reports the number of unexpired keys
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	now := b.now()
	for _, item := range b.items {
		if item.expiresAt.IsZero() || now.Before(item.expiresAt) {
			n++
		}
	}
	return n
}

type memoryConn struct {
	backend *MemoryBackend
	closed  bool

	// scanSnapshot pins the keyspace for one cursor walk so deletes
	// between pages cannot shift later cursors past unseen keys
	scanSnapshot []string
}

func (c *memoryConn) Get(ctx context.Context, key string) (string, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.failing {
		return "", domain.ErrBackendUnavailable
	}
	item, ok := c.backend.items[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	if !item.expiresAt.IsZero() && !c.backend.now().Before(item.expiresAt) {
		delete(c.backend.items, key)
		return "", domain.ErrKeyNotFound
	}
	return item.value, nil
}

func (c *memoryConn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.failing {
		return domain.ErrBackendUnavailable
	}
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = c.backend.now().Add(ttl)
	}
	c.backend.items[key] = item
	return nil
}

func (c *memoryConn) Del(ctx context.Context, keys ...string) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.failing {
		return domain.ErrBackendUnavailable
	}
	for _, key := range keys {
		delete(c.backend.items, key)
	}
	return nil
}

// Scan pages through the sorted keyspace; the cursor is the offset of
// the next page and wraps to 0 at the end, like a real backend cursor.
func (c *memoryConn) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.failing {
		return nil, 0, domain.ErrBackendUnavailable
	}
	if count <= 0 {
		count = 10
	}

	if cursor == 0 || c.scanSnapshot == nil {
		all := make([]string, 0, len(c.backend.items))
		now := c.backend.now()
		for key, item := range c.backend.items {
			if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
				continue
			}
			all = append(all, key)
		}
		sort.Strings(all)
		c.scanSnapshot = all
	}
	all := c.scanSnapshot

	if cursor >= uint64(len(all)) {
		c.scanSnapshot = nil
		return nil, 0, nil
	}

	end := cursor + uint64(count)
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}

	var matched []string
	for _, key := range all[cursor:end] {
		if _, live := c.backend.items[key]; !live {
			continue
		}
		if ok, err := path.Match(match, key); err == nil && ok {
			matched = append(matched, key)
		}
	}

	next := end
	if next >= uint64(len(all)) {
		next = 0
		c.scanSnapshot = nil
	}
	return matched, next, nil
}

func (c *memoryConn) Ping(ctx context.Context) error {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	if c.backend.failing {
		return domain.ErrBackendUnavailable
	}
	return nil
}

func (c *memoryConn) Close() error {
	c.closed = true
	return nil
}

// Ensure memoryConn implements Conn
var _ Conn = (*memoryConn)(nil)
