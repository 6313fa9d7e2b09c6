package stats

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// neutralHitRate is reported for keys with no recorded accesses so the
// TTL controller applies no per-key adjustment to them.
const neutralHitRate = 0.5

// DefaultMaxKeys caps how many keys the recorder tracks. Least
// recently touched entries are evicted beyond it, keeping memory
// bounded regardless of key cardinality.
const DefaultMaxKeys = 10000

// KeyStats holds hit/miss/set counters for one cache key. Counters are
// updated atomically; lost increments under contention are tolerable since these
// statistics are approximations.
type KeyStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// Recorder tracks per-key and global cache access statistics
type Recorder struct {
	keys *lru.Cache[string, *KeyStats]

	hits   int64
	misses int64
	sets   int64
}

// Snapshot is a point-in-time copy of the global counters
type Snapshot struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	HitRate     float64 `json:"hit_rate"`
	TrackedKeys int     `json:"tracked_keys"`
}

// NewRecorder creates a recorder tracking at most maxKeys keys
func NewRecorder(maxKeys int) *Recorder {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	cache, _ := lru.New[string, *KeyStats](maxKeys)
	return &Recorder{keys: cache}
}

// RecordHit increments the hit counter for key and the global hits
func (r *Recorder) RecordHit(key string) {
	ks := r.getOrCreate(key)
	atomic.AddInt64(&ks.Hits, 1)
	atomic.AddInt64(&r.hits, 1)
}

// RecordMiss increments the miss counter for key and the global misses
func (r *Recorder) RecordMiss(key string) {
	ks := r.getOrCreate(key)
	atomic.AddInt64(&ks.Misses, 1)
	atomic.AddInt64(&r.misses, 1)
}

// RecordSet increments the set counter for key and the global sets
func (r *Recorder) RecordSet(key string) {
	ks := r.getOrCreate(key)
	atomic.AddInt64(&ks.Sets, 1)
	atomic.AddInt64(&r.sets, 1)
}

// HitRate returns hits/(hits+misses) for key, or the neutral 0.5 when
// the key has no recorded accesses (or was evicted from tracking).
func (r *Recorder) HitRate(key string) float64 {
	ks, ok := r.keys.Get(key)
	if !ok {
		return neutralHitRate
	}
	hits := atomic.LoadInt64(&ks.Hits)
	misses := atomic.LoadInt64(&ks.Misses)
	total := hits + misses
	if total == 0 {
		return neutralHitRate
	}
	return float64(hits) / float64(total)
}

// GlobalHitRate returns the hit rate over all recorded accesses,
// neutral 0.5 when nothing has been recorded yet.
func (r *Recorder) GlobalHitRate() float64 {
	hits := atomic.LoadInt64(&r.hits)
	misses := atomic.LoadInt64(&r.misses)
	total := hits + misses
	if total == 0 {
		return neutralHitRate
	}
	return float64(hits) / float64(total)
}

// TotalAccesses returns the number of recorded hits plus misses
func (r *Recorder) TotalAccesses() int64 {
	return atomic.LoadInt64(&r.hits) + atomic.LoadInt64(&r.misses)
}

// KeyStats returns a copy of the counters for key
func (r *Recorder) KeyStats(key string) (KeyStats, bool) {
	ks, ok := r.keys.Get(key)
	if !ok {
		return KeyStats{}, false
	}
	return KeyStats{
		Hits:   atomic.LoadInt64(&ks.Hits),
		Misses: atomic.LoadInt64(&ks.Misses),
		Sets:   atomic.LoadInt64(&ks.Sets),
	}, true
}

// GetSnapshot returns a point-in-time copy of the global counters
func (r *Recorder) GetSnapshot() Snapshot {
	return Snapshot{
		Hits:        atomic.LoadInt64(&r.hits),
		Misses:      atomic.LoadInt64(&r.misses),
		Sets:        atomic.LoadInt64(&r.sets),
		HitRate:     r.GlobalHitRate(),
		TrackedKeys: r.keys.Len(),
	}
}

// PerKeySnapshot copies the tracked per-key counters, e.g. for
// best-effort persistence across restarts.
func (r *Recorder) PerKeySnapshot() map[string]KeyStats {
	out := make(map[string]KeyStats, r.keys.Len())
	for _, key := range r.keys.Keys() {
		if ks, ok := r.keys.Peek(key); ok {
			out[key] = KeyStats{
				Hits:   atomic.LoadInt64(&ks.Hits),
				Misses: atomic.LoadInt64(&ks.Misses),
				Sets:   atomic.LoadInt64(&ks.Sets),
			}
		}
	}
	return out
}

// Restore merges a persisted per-key snapshot back into the recorder
func (r *Recorder) Restore(snapshot map[string]KeyStats) {
	for key, ks := range snapshot {
		cur := r.getOrCreate(key)
		atomic.AddInt64(&cur.Hits, ks.Hits)
		atomic.AddInt64(&cur.Misses, ks.Misses)
		atomic.AddInt64(&cur.Sets, ks.Sets)
		atomic.AddInt64(&r.hits, ks.Hits)
		atomic.AddInt64(&r.misses, ks.Misses)
		atomic.AddInt64(&r.sets, ks.Sets)
	}
}

func (r *Recorder) getOrCreate(key string) *KeyStats {
	if ks, ok := r.keys.Get(key); ok {
		return ks
	}
	ks := &KeyStats{}
	if prev, found, _ := r.keys.PeekOrAdd(key, ks); found {
		return prev
	}
	return ks
}
