package token

import (
	"sync"
	"time"
)

type cachedVerification struct {
	claims     *Claims
	expiresAt  time.Time
	accessedAt time.Time
}

// verifyCache holds successful verification results keyed by the raw
// token string so repeated requests skip the cryptographic check.
type verifyCache struct {
	entries       map[string]*cachedVerification
	mu            sync.RWMutex
	maxSize       int
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	now           func() time.Time
}

func newVerifyCache(maxSize int, cleanupInterval time.Duration) *verifyCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	c := &verifyCache{
		entries:       make(map[string]*cachedVerification),
		maxSize:       maxSize,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}

	go c.startCleanup()
	return c
}

func (c *verifyCache) get(token string) (*Claims, bool) {
	c.mu.RLock()
	entry, exists := c.entries[token]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, token)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.accessedAt = c.now()
	c.mu.Unlock()

	return entry.claims, true
}

func (c *verifyCache) set(token string, claims *Claims, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[token] = &cachedVerification{
		claims:     claims,
		expiresAt:  c.now().Add(ttl),
		accessedAt: c.now(),
	}
}

// evictOldest drops the least recently accessed entry. Caller must
// hold the write lock.
func (c *verifyCache) evictOldest() {
	var oldestToken string
	var oldestAccess time.Time

	for token, entry := range c.entries {
		if oldestAccess.IsZero() || entry.accessedAt.Before(oldestAccess) {
			oldestToken = token
			oldestAccess = entry.accessedAt
		}
	}

	if oldestToken != "" {
		delete(c.entries, oldestToken)
	}
}

func (c *verifyCache) startCleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *verifyCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for token, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, token)
		}
	}
}

func (c *verifyCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// stop terminates the cleanup goroutine
func (c *verifyCache) stop() {
	c.cleanupTicker.Stop()
	close(c.stopCh)
}
