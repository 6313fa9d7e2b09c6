package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/pool"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/stats"
)

// Monitor observes query latencies and cache/pool health. Operations
// slower than the threshold are logged and counted; aggregate state is
// exported as Prometheus metrics on the injected registerer and logged
// periodically with recommendations.
type Monitor struct {
	recorder       *stats.Recorder
	pool           *pool.Pool
	logger         *logrus.Logger
	slowThreshold  time.Duration
	reportInterval time.Duration

	slowCount int64

	hitRatio      prometheus.Gauge
	trackedKeys   prometheus.Gauge
	poolLive      prometheus.Gauge
	poolIdle      prometheus.Gauge
	poolWaiting   prometheus.Gauge
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	slowQueries   *prometheus.CounterVec
}

// Report is a snapshot of current performance state
type Report struct {
	HitRatio        float64    `json:"hit_ratio"`
	Hits            int64      `json:"hits"`
	Misses          int64      `json:"misses"`
	Sets            int64      `json:"sets"`
	TrackedKeys     int        `json:"tracked_keys"`
	SlowQueries     int64      `json:"slow_queries"`
	Pool            pool.Stats `json:"pool"`
	LastUpdated     time.Time  `json:"last_updated"`
	Recommendations []string   `json:"recommendations,omitempty"`
}

// New creates a monitor. reg may be nil to use the default registerer.
func New(recorder *stats.Recorder, p *pool.Pool, logger *logrus.Logger, slowThreshold, reportInterval time.Duration, reg prometheus.Registerer) *Monitor {
	if slowThreshold <= 0 {
		slowThreshold = 100 * time.Millisecond
	}
	if reportInterval <= 0 {
		reportInterval = time.Minute
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Monitor{
		recorder:       recorder,
		pool:           p,
		logger:         logger,
		slowThreshold:  slowThreshold,
		reportInterval: reportInterval,
		hitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_hit_ratio",
			Help: "Cache hit ratio over all recorded accesses",
		}),
		trackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_tracked_keys",
			Help: "Number of keys with recorded statistics",
		}),
		poolLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_pool_connections",
			Help: "Live connections in the cache pool",
		}),
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_pool_idle_connections",
			Help: "Idle connections in the cache pool",
		}),
		poolWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cache_pool_waiting_acquires",
			Help: "Acquire calls currently waiting for a connection",
		}),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "query_total",
				Help: "Total number of monitored queries",
			},
			[]string{"query"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_duration_seconds",
				Help:    "Monitored query latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),
		slowQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slow_query_total",
				Help: "Queries exceeding the slow-query threshold",
			},
			[]string{"query"},
		),
	}

	reg.MustRegister(m.hitRatio, m.trackedKeys, m.poolLive, m.poolIdle,
		m.poolWaiting, m.queriesTotal, m.queryDuration, m.slowQueries)

	return m
}

// RecordQuery records one named operation's duration
func (m *Monitor) RecordQuery(name string, duration time.Duration) {
	m.queriesTotal.WithLabelValues(name).Inc()
	m.queryDuration.WithLabelValues(name).Observe(duration.Seconds())

	if duration >= m.slowThreshold {
		atomic.AddInt64(&m.slowCount, 1)
		m.slowQueries.WithLabelValues(name).Inc()
		m.logger.WithFields(logrus.Fields{
			"operation": name,
			"duration":  duration,
		}).Warn("Slow query detected")
	}
}

// Time starts timing a named operation; the returned function records it
func (m *Monitor) Time(name string) func() {
	start := time.Now()
	return func() {
		m.RecordQuery(name, time.Since(start))
	}
}

// SlowQueries returns how many monitored queries exceeded the threshold
func (m *Monitor) SlowQueries() int64 {
	return atomic.LoadInt64(&m.slowCount)
}

// Run updates gauges and logs performance on the report interval
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.updateMetrics()
			m.analyzePerformance()
		case <-ctx.Done():
			return
		}
	}
}

// GetReport returns a snapshot with recommendations
func (m *Monitor) GetReport() *Report {
	snap := m.recorder.GetSnapshot()
	return &Report{
		HitRatio:        snap.HitRate,
		Hits:            snap.Hits,
		Misses:          snap.Misses,
		Sets:            snap.Sets,
		TrackedKeys:     snap.TrackedKeys,
		SlowQueries:     m.SlowQueries(),
		Pool:            m.pool.Stats(),
		LastUpdated:     time.Now(),
		Recommendations: m.generateRecommendations(),
	}
}

func (m *Monitor) updateMetrics() {
	snap := m.recorder.GetSnapshot()
	if snap.Hits+snap.Misses > 0 {
		m.hitRatio.Set(snap.HitRate)
	}
	m.trackedKeys.Set(float64(snap.TrackedKeys))

	ps := m.pool.Stats()
	m.poolLive.Set(float64(ps.Live))
	m.poolIdle.Set(float64(ps.Idle))
	m.poolWaiting.Set(float64(ps.Waiting))
}

func (m *Monitor) analyzePerformance() {
	snap := m.recorder.GetSnapshot()
	ps := m.pool.Stats()

	m.logger.WithFields(logrus.Fields{
		"hit_rate":     snap.HitRate,
		"total_hits":   snap.Hits,
		"total_misses": snap.Misses,
		"slow_queries": m.SlowQueries(),
		"pool_live":    ps.Live,
		"pool_idle":    ps.Idle,
	}).Info("Cache performance")

	if snap.Hits+snap.Misses > 0 && snap.HitRate < 0.5 {
		m.logger.Warn("Low cache hit ratio detected, consider adjusting TTL configuration")
	}
	if ps.Timeouts > 0 {
		m.logger.Warn("Pool acquire timeouts recorded, consider increasing max pool size")
	}
}

func (m *Monitor) generateRecommendations() []string {
	var recommendations []string

	snap := m.recorder.GetSnapshot()
	if snap.Hits+snap.Misses > 0 && snap.HitRate < 0.5 {
		recommendations = append(recommendations,
			"Low cache hit ratio detected. Consider increasing base TTL values.")
	}

	ps := m.pool.Stats()
	if ps.Timeouts > 0 {
		recommendations = append(recommendations,
			"Acquire timeouts occurred. Consider increasing the max pool size.")
	}
	if ps.Waiting > 0 {
		recommendations = append(recommendations,
			"Callers are waiting for connections. The pool may be undersized.")
	}

	return recommendations
}
