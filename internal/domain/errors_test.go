package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		poolTimeout    bool
		poolClosed     bool
		notFound       bool
		infrastructure bool
		tokenInvalid   bool
	}{
		{name: "Pool timeout", err: ErrPoolTimeout, poolTimeout: true, infrastructure: true},
		{name: "Pool closed", err: ErrPoolClosed, poolClosed: true, infrastructure: true},
		{name: "Backend unavailable", err: ErrBackendUnavailable, infrastructure: true},
		{name: "Key not found", err: ErrKeyNotFound, notFound: true},
		{name: "Token invalid", err: ErrTokenInvalid, tokenInvalid: true},
		{name: "Wrapped backend error", err: fmt.Errorf("%w: connection refused", ErrBackendUnavailable), infrastructure: true},
		{name: "Wrapped config error", err: fmt.Errorf("%w: yaml parse", ErrConfigUnreadable)},
		{name: "Unrelated error", err: fmt.Errorf("boom")},
		{name: "Nil error", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.poolTimeout, IsPoolTimeout(tt.err))
			assert.Equal(t, tt.poolClosed, IsPoolClosed(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.infrastructure, IsInfrastructureError(tt.err))
			assert.Equal(t, tt.tokenInvalid, IsTokenInvalid(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	for _, err := range []error{
		ErrPoolTimeout, ErrPoolClosed, ErrBackendUnavailable,
		ErrKeyNotFound, ErrConfigUnreadable, ErrTokenInvalid,
	} {
		msg, ok := ErrorMessages[err.Error()]
		assert.True(t, ok, "missing message for %v", err)
		assert.NotEmpty(t, msg)
	}
}
