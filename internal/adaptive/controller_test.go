package adaptive

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/stats"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeSnapshotStore keeps persisted blobs in a map
type fakeSnapshotStore struct {
	blobs map[string][]byte
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{blobs: make(map[string][]byte)}
}

func (f *fakeSnapshotStore) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	raw, ok := f.blobs[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (f *fakeSnapshotStore) Set(ctx context.Context, key string, value interface{}, ttlSeconds int) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	f.blobs[key] = raw
	return true
}

func newTestController(recorder *stats.Recorder, normLoad float64) *Controller {
	c := NewController(DefaultTTLConfig(), recorder, nil, testLogger(), time.Minute)
	c.loadFn = func() (float64, error) { return normLoad, nil }
	return c
}

func seedKey(r *stats.Recorder, key string, hits, misses int) {
	for i := 0; i < hits; i++ {
		r.RecordHit(key)
	}
	for i := 0; i < misses; i++ {
		r.RecordMiss(key)
	}
}

func TestOptimalTTLMonotonicity(t *testing.T) {
	recorder := stats.NewRecorder(100)
	seedKey(recorder, "user:1:profile", 9, 1) // hit rate 0.9
	seedKey(recorder, "user:2:profile", 1, 9) // hit rate 0.1

	c := newTestController(recorder, 0.2)
	c.Recalculate(context.Background())

	hot := c.OptimalTTL("user:profile", "user:1:profile")
	cold := c.OptimalTTL("user:profile", "user:2:profile")
	assert.Greater(t, hot, cold)
}

func TestOptimalTTLBounds(t *testing.T) {
	loads := []float64{0.1, 0.6, 0.9}
	hitRates := []struct {
		hits, misses int
	}{
		{0, 0}, // no traffic
		{1, 9}, // 0.1
		{6, 4}, // 0.6
		{9, 1}, // 0.9
	}

	cfg := DefaultTTLConfig()
	for _, normLoad := range loads {
		for _, hr := range hitRates {
			recorder := stats.NewRecorder(100)
			seedKey(recorder, "user:1:profile", hr.hits, hr.misses)

			c := newTestController(recorder, normLoad)
			c.Recalculate(context.Background())

			for category, base := range cfg.BaseTTL {
				ttl := c.OptimalTTL(category, "user:1:profile")
				lo := int(float64(base) * cfg.MinMultiplier)
				hi := int(float64(base) * cfg.MaxMultiplier)
				assert.GreaterOrEqual(t, ttl, lo,
					"category %s load %v hits %d misses %d", category, normLoad, hr.hits, hr.misses)
				assert.LessOrEqual(t, ttl, hi,
					"category %s load %v hits %d misses %d", category, normLoad, hr.hits, hr.misses)
			}
		}
	}
}

func TestOptimalTTLClampedAtFloor(t *testing.T) {
	recorder := stats.NewRecorder(100)
	seedKey(recorder, "user:1:profile", 1, 9) // cold key, missMultiplier applies

	// High load halves the base, already at the floor
	c := newTestController(recorder, 0.9)
	c.Recalculate(context.Background())

	// base 600 * 0.5 = 300; the 0.95 per-key multiplier must not escape it
	assert.Equal(t, 300, c.OptimalTTL("user:profile", "user:1:profile"))
}

func TestOptimalTTLUnknownCategory(t *testing.T) {
	c := newTestController(stats.NewRecorder(100), 0.2)
	c.Recalculate(context.Background())

	assert.Equal(t, DefaultTTL, c.OptimalTTL("no:such:category", "k"))
}

func TestLoadFactorMapping(t *testing.T) {
	tests := []struct {
		name     string
		normLoad float64
		expected float64
	}{
		{name: "High load", normLoad: 0.85, expected: 0.5},
		{name: "Medium load", normLoad: 0.6, expected: 0.75},
		{name: "Low load", normLoad: 0.3, expected: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(stats.NewRecorder(100), tt.normLoad)
			c.Recalculate(context.Background())

			lf, _ := c.Factors()
			assert.Equal(t, tt.expected, lf)
		})
	}
}

func TestHitRateFactorMapping(t *testing.T) {
	tests := []struct {
		name         string
		hits, misses int
		expected     float64
	}{
		{name: "No traffic applies no adjustment", hits: 0, misses: 0, expected: 1.0},
		{name: "High hit rate grows TTLs", hits: 9, misses: 1, expected: 1.1},
		{name: "Medium hit rate is neutral", hits: 6, misses: 4, expected: 1.0},
		{name: "Low hit rate shrinks TTLs", hits: 2, misses: 8, expected: 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := stats.NewRecorder(100)
			seedKey(recorder, "k", tt.hits, tt.misses)

			c := newTestController(recorder, 0.2)
			c.Recalculate(context.Background())

			_, hrf := c.Factors()
			assert.Equal(t, tt.expected, hrf)
		})
	}
}

func TestAdjustedTTLUnderLoad(t *testing.T) {
	recorder := stats.NewRecorder(100)
	seedKey(recorder, "k", 6, 4) // neutral hit rate factor

	c := newTestController(recorder, 0.9)
	c.Recalculate(context.Background())

	// base 900 * 0.5 load factor, untracked key adds nothing
	assert.Equal(t, 450, c.OptimalTTL("auth:login", "untracked"))
}

func TestPersistAndRestore(t *testing.T) {
	store := newFakeSnapshotStore()
	recorder := stats.NewRecorder(100)
	seedKey(recorder, "k", 6, 4)

	c := NewController(DefaultTTLConfig(), recorder, store, testLogger(), time.Minute)
	c.loadFn = func() (float64, error) { return 0.9, nil }
	c.Recalculate(context.Background())

	require.Contains(t, store.blobs, "cache:config:ttl")

	// A fresh controller restores the adjusted config before its first tick
	c2 := NewController(DefaultTTLConfig(), stats.NewRecorder(100), store, testLogger(), time.Minute)
	assert.Equal(t, 450, c2.OptimalTTL("auth:login", "untracked"))
}

func TestStatsSnapshotRoundTrip(t *testing.T) {
	store := newFakeSnapshotStore()
	recorder := stats.NewRecorder(100)
	seedKey(recorder, "user:1:profile", 3, 1)

	c := NewController(DefaultTTLConfig(), recorder, store, testLogger(), time.Minute)
	c.PersistStats(context.Background())

	fresh := stats.NewRecorder(100)
	c2 := NewController(DefaultTTLConfig(), fresh, store, testLogger(), time.Minute)
	c2.RestoreStats(context.Background())

	assert.InDelta(t, 0.75, fresh.HitRate("user:1:profile"), 0.0001)
}

func TestLoadErrorFallsBack(t *testing.T) {
	c := NewController(DefaultTTLConfig(), stats.NewRecorder(100), nil, testLogger(), time.Minute)
	c.loadFn = func() (float64, error) { return 0, assert.AnError }
	c.Recalculate(context.Background())

	lf, _ := c.Factors()
	assert.Equal(t, 1.0, lf)
	assert.Equal(t, 900, c.OptimalTTL("auth:login", "k"))
}
