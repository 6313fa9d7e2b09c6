package pool

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/backend"
	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/domain"
)

type fakeConn struct {
	closed int32
}

func (f *fakeConn) Get(ctx context.Context, key string) (string, error) {
	return "", domain.ErrKeyNotFound
}
func (f *fakeConn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (f *fakeConn) Del(ctx context.Context, keys ...string) error { return nil }
func (f *fakeConn) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return nil, 0, nil
}
func (f *fakeConn) Ping(ctx context.Context) error { return nil }
func (f *fakeConn) Close() error {
	atomic.StoreInt32(&f.closed, 1)
	return nil
}

func fakeDialer(dials *int32) backend.Dialer {
	return func(ctx context.Context) (backend.Conn, error) {
		if dials != nil {
			atomic.AddInt32(dials, 1)
		}
		return &fakeConn{}, nil
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestAcquireRelease(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             2,
		MaxSize:             4,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pc.Conn())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 1, stats.InUse)

	p.Release(pc)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 2, stats.Idle)
}

func TestAcquireTimeout(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             1,
		AcquireTimeout:      200 * time.Millisecond,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrPoolTimeout)
	assert.GreaterOrEqual(t, elapsed, 180*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, int64(1), p.Stats().Timeouts)

	p.Release(pc)
}

func TestAcquireCallerCancellation(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             1,
		AcquireTimeout:      5 * time.Second,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrPoolTimeout)
	assert.Equal(t, int64(0), p.Stats().Timeouts)

	p.Release(pc)
}

func TestAcquireCallerDeadline(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             1,
		AcquireTimeout:      5 * time.Second,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(0), p.Stats().Timeouts)

	p.Release(pc)
}

func TestWaiterHandoff(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             1,
		AcquireTimeout:      time.Second,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Release(pc)
	}()

	start := time.Now()
	pc2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	p.Release(pc2)
}

func TestPoolBounds(t *testing.T) {
	var dials int32
	const maxSize = 5

	p := New(fakeDialer(&dials), Config{
		MinSize:             1,
		MaxSize:             maxSize,
		AcquireTimeout:      time.Second,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	var borrowed int32
	var maxBorrowed int32
	var wg sync.WaitGroup

	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			cur := atomic.AddInt32(&borrowed, 1)
			for {
				prev := atomic.LoadInt32(&maxBorrowed)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxBorrowed, prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&borrowed, -1)
			p.Release(pc)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxBorrowed), int32(maxSize))
	assert.LessOrEqual(t, p.Stats().Live, maxSize)
}

func TestReleaseAfterDiscardIsNoop(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             2,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	pc, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Discard(pc)
	assert.Equal(t, int64(1), p.Stats().Discards)
	assert.Equal(t, 0, p.Stats().Live)

	// Returning an evicted connection must not panic or resurrect it
	p.Release(pc)
	assert.Equal(t, 0, p.Stats().Live)
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestMaintenanceReplenishesToMinSize(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             2,
		MaxSize:             4,
		MaintenanceInterval: 20 * time.Millisecond,
	}, testLogger())
	defer p.Close()

	pc1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	pc2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Discard(pc1)
	p.Discard(pc2)
	assert.Equal(t, 0, p.Stats().Live)

	require.Eventually(t, func() bool {
		return p.Stats().Live >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMaintenanceEvictsIdleConnections(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             4,
		IdleTimeout:         30 * time.Millisecond,
		MaintenanceInterval: 20 * time.Millisecond,
	}, testLogger())
	defer p.Close()

	// Grow the pool to three live connections
	var conns []*PooledConn
	for i := 0; i < 3; i++ {
		pc, err := p.Acquire(context.Background())
		require.NoError(t, err)
		conns = append(conns, pc)
	}
	for _, pc := range conns {
		p.Release(pc)
	}
	assert.Equal(t, 3, p.Stats().Live)

	require.Eventually(t, func() bool {
		return p.Stats().Live == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClosedPool(t *testing.T) {
	p := New(fakeDialer(nil), Config{
		MinSize:             1,
		MaxSize:             2,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	p.Close()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrPoolClosed)

	// Closing twice is safe
	p.Close()
}

func TestDialFailureSurfacesToCaller(t *testing.T) {
	attempts := 0
	dial := func(ctx context.Context) (backend.Conn, error) {
		attempts++
		return nil, domain.ErrBackendUnavailable
	}

	p := New(dial, Config{
		MinSize:             1,
		MaxSize:             2,
		AcquireTimeout:      200 * time.Millisecond,
		MaintenanceInterval: time.Hour,
	}, testLogger())
	defer p.Close()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
	assert.Greater(t, attempts, 0)
}
