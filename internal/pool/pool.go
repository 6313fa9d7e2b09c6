package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/backend"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
)

// Config holds the pool bounds and timing knobs
type Config struct {
	MinSize             int
	MaxSize             int
	IdleTimeout         time.Duration
	AcquireTimeout      time.Duration
	MaintenanceInterval time.Duration
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		MinSize:             5,
		MaxSize:             20,
		IdleTimeout:         60 * time.Second,
		AcquireTimeout:      10 * time.Second,
		MaintenanceInterval: 30 * time.Second,
	}
}

// PooledConn wraps one live backend connection. It is owned by the
// pool; callers hold a borrowed reference for one operation and must
// return it via Release (or Discard on a backend error).
type PooledConn struct {
	conn     backend.Conn
	lastUsed time.Time
	inUse    bool
	evicted  bool
}

// Conn returns the underlying backend connection
func (pc *PooledConn) Conn() backend.Conn {
	return pc.conn
}

// Stats is a snapshot of pool state for monitoring
type Stats struct {
	Live      int   `json:"live"`
	Idle      int   `json:"idle"`
	InUse     int   `json:"in_use"`
	Waiting   int   `json:"waiting"`
	Dials     int64 `json:"dials"`
	DialFails int64 `json:"dial_fails"`
	Discards  int64 `json:"discards"`
	Evictions int64 `json:"evictions"`
	Timeouts  int64 `json:"timeouts"`
}

// Pool manages a bounded set of reusable backend connections. Waiters
// receive released connections by direct handoff instead of polling,
// which gives precise acquire-timeout semantics.
type Pool struct {
	cfg    Config
	dial   backend.Dialer
	logger *logrus.Logger

	mu      sync.Mutex
	conns   map[*PooledConn]struct{}
	idle    []*PooledConn
	waiters []chan *PooledConn
	dialing int
	closed  bool
	stopCh  chan struct{}

	dials     int64
	dialFails int64
	discards  int64
	evictions int64
	timeouts  int64
}

// New creates a pool, pre-warms it to MinSize and starts background
// maintenance. Pre-warm failures are logged, not fatal: maintenance
// keeps retrying until the minimum is reached.
func New(dial backend.Dialer, cfg Config, logger *logrus.Logger) *Pool {
	def := DefaultConfig()
	if cfg.MinSize <= 0 {
		cfg.MinSize = def.MinSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}

	p := &Pool{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		conns:  make(map[*PooledConn]struct{}),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.MinSize; i++ {
		pc, err := p.dialNew()
		if err != nil {
			p.logger.Warnf("Pool pre-warm dial failed: %v", err)
			continue
		}
		p.mu.Lock()
		p.conns[pc] = struct{}{}
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}

	go p.maintenanceLoop()
	return p
}

// Acquire returns a borrowed connection, preferring an idle one,
// dialing a new one below MaxSize, and otherwise waiting until a
// connection is released or the acquire timeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, domain.ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			pc := p.idle[n-1]
			p.idle = p.idle[:n-1]
			pc.inUse = true
			p.mu.Unlock()
			return pc, nil
		}

		if len(p.conns)+p.dialing < p.cfg.MaxSize {
			p.dialing++
			p.mu.Unlock()

			pc, err := p.dialNew()

			p.mu.Lock()
			p.dialing--
			if err != nil {
				// Free the reserved slot for the next waiter
				p.notifyOneLocked()
				p.mu.Unlock()
				return nil, err
			}
			if p.closed {
				p.mu.Unlock()
				pc.conn.Close()
				return nil, domain.ErrPoolClosed
			}
			pc.inUse = true
			p.conns[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		ch := make(chan *PooledConn, 1)
		p.waiters = append(p.waiters, ch)
		p.mu.Unlock()

		select {
		case pc := <-ch:
			if pc != nil {
				return pc, nil
			}
			// nil wakeup: a slot was freed, retry the fast paths
		case <-acquireCtx.Done():
			p.mu.Lock()
			p.removeWaiterLocked(ch)
			p.mu.Unlock()
			// A handoff may have raced the cancellation
			select {
			case pc := <-ch:
				if pc != nil {
					return pc, nil
				}
			default:
			}
			// Caller cancellation is not pool exhaustion
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			atomic.AddInt64(&p.timeouts, 1)
			return nil, domain.ErrPoolTimeout
		}
	}
}

// Release returns a borrowed connection to the pool. Releasing a
// connection that was already discarded or evicted is a no-op.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	if pc.evicted {
		p.mu.Unlock()
		return
	}
	if _, ok := p.conns[pc]; !ok {
		p.mu.Unlock()
		return
	}
	if p.closed {
		delete(p.conns, pc)
		pc.evicted = true
		p.mu.Unlock()
		pc.conn.Close()
		return
	}
	pc.lastUsed = time.Now()
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		ch <- pc // stays inUse, direct handoff
		p.mu.Unlock()
		return
	}
	pc.inUse = false
	p.idle = append(p.idle, pc)
	p.mu.Unlock()
}

// Discard removes a broken connection from the pool and closes it.
// The connection is never handed to another caller again.
func (p *Pool) Discard(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	if pc.evicted {
		p.mu.Unlock()
		return
	}
	if _, ok := p.conns[pc]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.conns, pc)
	pc.evicted = true
	// The freed slot lets a waiter dial a replacement
	p.notifyOneLocked()
	p.mu.Unlock()

	pc.conn.Close()
	atomic.AddInt64(&p.discards, 1)
	p.logger.Debug("Discarded broken pool connection")
}

// Close shuts the pool down, wakes all waiters and closes every
// connection, borrowed ones included.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	for _, ch := range p.waiters {
		ch <- nil
	}
	p.waiters = nil
	toClose := make([]*PooledConn, 0, len(p.conns))
	for pc := range p.conns {
		pc.evicted = true
		toClose = append(toClose, pc)
	}
	p.conns = make(map[*PooledConn]struct{})
	p.idle = nil
	p.mu.Unlock()

	for _, pc := range toClose {
		pc.conn.Close()
	}
}

// Stats returns a snapshot of the pool state
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	live := len(p.conns)
	idle := len(p.idle)
	waiting := len(p.waiters)
	p.mu.Unlock()

	return Stats{
		Live:      live,
		Idle:      idle,
		InUse:     live - idle,
		Waiting:   waiting,
		Dials:     atomic.LoadInt64(&p.dials),
		DialFails: atomic.LoadInt64(&p.dialFails),
		Discards:  atomic.LoadInt64(&p.discards),
		Evictions: atomic.LoadInt64(&p.evictions),
		Timeouts:  atomic.LoadInt64(&p.timeouts),
	}
}

func (p *Pool) dialNew() (*PooledConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()

	atomic.AddInt64(&p.dials, 1)
	conn, err := p.dial(ctx)
	if err != nil {
		atomic.AddInt64(&p.dialFails, 1)
		return nil, err
	}
	return &PooledConn{conn: conn, lastUsed: time.Now()}, nil
}

// notifyOneLocked wakes a single waiter without a connection so it
// retries the idle/dial fast paths. Caller must hold p.mu.
func (p *Pool) notifyOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	ch := p.waiters[0]
	p.waiters = p.waiters[1:]
	ch <- nil
}

func (p *Pool) removeWaiterLocked(ch chan *PooledConn) {
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) maintenanceLoop() {
	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.maintain()
		case <-p.stopCh:
			return
		}
	}
}

// maintain evicts connections idle beyond IdleTimeout down to MinSize
// and dials replacements when the live count has fallen below it.
func (p *Pool) maintain() {
	now := time.Now()

	p.mu.Lock()
	var toClose []*PooledConn
	keep := p.idle[:0]
	for _, pc := range p.idle {
		if now.Sub(pc.lastUsed) > p.cfg.IdleTimeout && len(p.conns) > p.cfg.MinSize {
			pc.evicted = true
			delete(p.conns, pc)
			toClose = append(toClose, pc)
		} else {
			keep = append(keep, pc)
		}
	}
	p.idle = keep

	need := p.cfg.MinSize - (len(p.conns) + p.dialing)
	if need > 0 {
		p.dialing += need
	}
	p.mu.Unlock()

	for _, pc := range toClose {
		pc.conn.Close()
		atomic.AddInt64(&p.evictions, 1)
	}
	if len(toClose) > 0 {
		p.logger.Debugf("Pool evicted %d idle connections", len(toClose))
	}

	for i := 0; i < need; i++ {
		pc, err := p.dialNew()

		p.mu.Lock()
		p.dialing--
		if err != nil {
			p.mu.Unlock()
			p.logger.Warnf("Pool maintenance dial failed: %v", err)
			continue
		}
		if p.closed {
			p.mu.Unlock()
			pc.conn.Close()
			return
		}
		p.conns[pc] = struct{}{}
		if len(p.waiters) > 0 {
			ch := p.waiters[0]
			p.waiters = p.waiters[1:]
			pc.inUse = true
			ch <- pc
		} else {
			p.idle = append(p.idle, pc)
		}
		p.mu.Unlock()
	}
}
