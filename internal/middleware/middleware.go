// internal/middleware/middleware.go

package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/HeavenManySugar/NTUT-MADD-Final-backend/internal/token"
)

type Middleware struct {
	tokens  *token.Service
	logger  *logrus.Logger
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

// clientLimiter pairs a client's token bucket with its last activity,
// so idle entries can be evicted without resetting active buckets.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMiddleware creates the middleware set. requestsPerSecond and
// burst bound each client's request rate; non-positive values fall
// back to the defaults.
func NewMiddleware(tokens *token.Service, logger *logrus.Logger, requestsPerSecond, burst int) *Middleware {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &Middleware{
		tokens:  tokens,
		logger:  logger,
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}
