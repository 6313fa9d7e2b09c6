// internal/domain/errors.go

package domain

import "errors"

// Pool errors, the only errors that may reach callers of Acquire
var (
	ErrPoolTimeout = errors.New("POOL_TIMEOUT")
	ErrPoolClosed  = errors.New("POOL_CLOSED")
)

// Backend errors, absorbed at the cache boundary and never propagated
var (
	ErrBackendUnavailable = errors.New("BACKEND_UNAVAILABLE")
	ErrKeyNotFound        = errors.New("KEY_NOT_FOUND")
)

// Configuration errors
var (
	ErrConfigUnreadable = errors.New("CONFIG_UNREADABLE")
)

// Token errors. Every verification failure collapses to this one value
var (
	ErrTokenInvalid = errors.New("TOKEN_INVALID")
)

// IsPoolTimeout checks if the error is a pool exhaustion timeout
func IsPoolTimeout(err error) bool {
	return errors.Is(err, ErrPoolTimeout)
}

// IsPoolClosed checks if the error is a closed pool error
func IsPoolClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed)
}

// IsNotFound checks if the error is a missing-key error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsInfrastructureError checks if the error is an infrastructure error
func IsInfrastructureError(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrPoolTimeout) ||
		errors.Is(err, ErrPoolClosed)
}

// IsTokenInvalid checks if the error is a token verification failure
func IsTokenInvalid(err error) bool {
	return errors.Is(err, ErrTokenInvalid)
}

// Error messages for human readable output
var ErrorMessages = map[string]string{
	"POOL_TIMEOUT":        "No cache connection became available within the acquire timeout",
	"POOL_CLOSED":         "The connection pool has been closed",
	"BACKEND_UNAVAILABLE": "The cache backend is unavailable",
	"KEY_NOT_FOUND":       "The requested key does not exist",
	"CONFIG_UNREADABLE":   "TTL configuration could not be loaded, using defaults",
	"TOKEN_INVALID":       "Token is invalid, expired or revoked",
}
