package adaptive

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/stats"
)

const (
	// DefaultTTL is returned for unrecognized categories and on any
	// config/stats failure. This path never errors to the caller.
	DefaultTTL = 300

	configSnapshotKey = "cache:config:ttl"
	statsSnapshotKey  = "cache:stats:keys"
)

// TTLConfig holds the per-category base TTLs and the tunable multipliers
type TTLConfig struct {
	BaseTTL        map[string]int `json:"base_ttl"`
	HitMultiplier  float64        `json:"hit_multiplier"`
	MissMultiplier float64        `json:"miss_multiplier"`
	MaxMultiplier  float64        `json:"max_multiplier"`
	MinMultiplier  float64        `json:"min_multiplier"`
}

// DefaultTTLConfig returns the default category TTLs and multipliers
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		BaseTTL: map[string]int{
			"auth:login":   900,
			"user:profile": 600,
			"query:result": 300,
		},
		HitMultiplier:  1.05,
		MissMultiplier: 0.95,
		MaxMultiplier:  3.0,
		MinMultiplier:  0.5,
	}
}

// SnapshotStore persists the adjusted config and stats snapshots as
// opaque blobs under well-known keys. Loss is non-fatal; both
// operations are best-effort. Satisfied by *cache.Store.
type SnapshotStore interface {
	GetJSON(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttlSeconds int) bool
}

type persistedConfig struct {
	Adjusted  map[string]float64 `json:"adjusted"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Controller recomputes the effective per-category TTLs on a fixed
// tick from system load and the global hit rate, and answers
// OptimalTTL lookups on the cache hot path.
type Controller struct {
	base     TTLConfig
	recorder *stats.Recorder
	store    SnapshotStore
	logger   *logrus.Logger
	interval time.Duration
	loadFn   func() (float64, error)

	mu            sync.RWMutex
	adjusted      map[string]float64
	loadFactor    float64
	hitRateFactor float64
}

// NewController creates a controller. store may be nil to disable
// persistence; a persisted adjusted config is restored on startup.
func NewController(base TTLConfig, recorder *stats.Recorder, store SnapshotStore, logger *logrus.Logger, interval time.Duration) *Controller {
	def := DefaultTTLConfig()
	if len(base.BaseTTL) == 0 {
		base.BaseTTL = def.BaseTTL
	}
	if base.HitMultiplier <= 0 {
		base.HitMultiplier = def.HitMultiplier
	}
	if base.MissMultiplier <= 0 {
		base.MissMultiplier = def.MissMultiplier
	}
	if base.MaxMultiplier <= 0 {
		base.MaxMultiplier = def.MaxMultiplier
	}
	if base.MinMultiplier <= 0 {
		base.MinMultiplier = def.MinMultiplier
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}

	c := &Controller{
		base:          base,
		recorder:      recorder,
		store:         store,
		logger:        logger,
		interval:      interval,
		loadFn:        systemLoad,
		adjusted:      make(map[string]float64, len(base.BaseTTL)),
		loadFactor:    1.0,
		hitRateFactor: 1.0,
	}
	for category, ttl := range base.BaseTTL {
		c.adjusted[category] = float64(ttl)
	}
	c.restore()
	return c
}

// Run recomputes the adjusted config on the controller interval until
// ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Recalculate(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Recalculate recomputes every category's adjusted TTL from the
// current load factor and global hit rate, clamps it to
// [base*MinMultiplier, base*MaxMultiplier] and persists the result.
func (c *Controller) Recalculate(ctx context.Context) {
	lf := 1.0
	if normLoad, err := c.loadFn(); err != nil {
		c.logger.Warnf("Load average unavailable, keeping load factor 1.0: %v", err)
	} else {
		lf = loadFactor(normLoad)
	}
	hrf := c.currentHitRateFactor()

	adjusted := make(map[string]float64, len(c.base.BaseTTL))
	for category, base := range c.base.BaseTTL {
		b := float64(base)
		adjusted[category] = clamp(b*lf*hrf, b*c.base.MinMultiplier, b*c.base.MaxMultiplier)
	}

	c.mu.Lock()
	c.adjusted = adjusted
	c.loadFactor = lf
	c.hitRateFactor = hrf
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"load_factor":     lf,
		"hit_rate_factor": hrf,
		"hit_rate":        c.recorder.GlobalHitRate(),
	}).Debug("Recomputed adaptive TTL config")

	c.persist(ctx, adjusted)
}

// OptimalTTL returns the effective TTL in whole seconds for a key in a
// category. Unrecognized categories fall back to the 300s default;
// this method never fails.
func (c *Controller) OptimalTTL(category, key string) int {
	base, knownCategory := c.base.BaseTTL[category]

	c.mu.RLock()
	ttl, haveAdjusted := c.adjusted[category]
	c.mu.RUnlock()

	if !haveAdjusted {
		if !knownCategory {
			return DefaultTTL
		}
		ttl = float64(base)
	}

	if ks, tracked := c.recorder.KeyStats(key); tracked {
		if total := ks.Hits + ks.Misses; total > 0 {
			rate := float64(ks.Hits) / float64(total)
			if rate > 0.8 {
				ttl *= c.base.HitMultiplier
			} else if rate < 0.3 {
				ttl *= c.base.MissMultiplier
			}
		}
	}

	if knownCategory {
		// Re-clamp so the per-key multiplier cannot escape the bounds
		b := float64(base)
		ttl = clamp(ttl, b*c.base.MinMultiplier, b*c.base.MaxMultiplier)
	}
	return int(math.Round(ttl))
}

// Factors reports the factors applied at the last recompute
func (c *Controller) Factors() (loadFactor, hitRateFactor float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadFactor, c.hitRateFactor
}

// PersistStats writes a best-effort snapshot of the per-key counters
func (c *Controller) PersistStats(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.store.Set(ctx, statsSnapshotKey, c.recorder.PerKeySnapshot(), 0)
}

// RestoreStats merges a previously persisted per-key snapshot
func (c *Controller) RestoreStats(ctx context.Context) {
	if c.store == nil {
		return
	}
	var snapshot map[string]stats.KeyStats
	if c.store.GetJSON(ctx, statsSnapshotKey, &snapshot) {
		c.recorder.Restore(snapshot)
	}
}

func (c *Controller) currentHitRateFactor() float64 {
	// No traffic yet: apply no adjustment rather than the shrink bucket
	if c.recorder.TotalAccesses() == 0 {
		return 1.0
	}
	rate := c.recorder.GlobalHitRate()
	switch {
	case rate > 0.8:
		return 1.1
	case rate > 0.5:
		return 1.0
	default:
		return 0.9
	}
}

func (c *Controller) persist(ctx context.Context, adjusted map[string]float64) {
	if c.store == nil {
		return
	}
	c.store.Set(ctx, configSnapshotKey, persistedConfig{
		Adjusted:  adjusted,
		UpdatedAt: time.Now(),
	}, 0)
}

// restore loads a persisted adjusted config, clamping each category
// against the current base bounds. Anything unreadable is ignored and
// the static defaults stand.
func (c *Controller) restore() {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var persisted persistedConfig
	if !c.store.GetJSON(ctx, configSnapshotKey, &persisted) {
		return
	}
	c.mu.Lock()
	for category, ttl := range persisted.Adjusted {
		base, ok := c.base.BaseTTL[category]
		if !ok {
			continue
		}
		b := float64(base)
		c.adjusted[category] = clamp(ttl, b*c.base.MinMultiplier, b*c.base.MaxMultiplier)
	}
	c.mu.Unlock()
	c.logger.Debug("Restored persisted TTL config")
}

// loadFactor maps normalized system load to a TTL shrink factor
func loadFactor(normLoad float64) float64 {
	switch {
	case normLoad > 0.8:
		return 0.5
	case normLoad > 0.5:
		return 0.75
	default:
		return 1.0
	}
}

// systemLoad returns the 1-minute load average divided by CPU count
func systemLoad() (float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return 0, err
	}
	cpus := runtime.NumCPU()
	if cpus < 1 {
		cpus = 1
	}
	return avg.Load1 / float64(cpus), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
