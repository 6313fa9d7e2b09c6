// internal/middleware/ratelimit.go

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerSecond = 10
	defaultBurst             = 20

	// limiterIdleTimeout is how long a client may stay silent before
	// its limiter is evicted.
	limiterIdleTimeout   = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// RateLimit rejects requests from clients that exceed their per-IP
// token bucket.
func (m *Middleware) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !m.getLimiter(clientIP).Allow() {
			m.logger.WithFields(logrus.Fields{
				"client": clientIP,
			}).Debug("Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  http.StatusTooManyRequests,
				"message": "RATE_LIMIT_EXCEEDED",
				"info": gin.H{
					"retry_after": "1s",
				},
			})
			return
		}

		c.Next()
	}
}

func (m *Middleware) getLimiter(clientIP string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	cl, exists := m.clients[clientIP]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.clients[clientIP] = cl
	}
	cl.lastSeen = time.Now()

	return cl.limiter
}

// CleanupLimiters evicts limiters for idle clients until ctx is
// cancelled. Run it in its own goroutine.
func (m *Middleware) CleanupLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdleLimiters(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (m *Middleware) evictIdleLimiters(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ip, cl := range m.clients {
		if now.Sub(cl.lastSeen) > limiterIdleTimeout {
			delete(m.clients, ip)
		}
	}
}
