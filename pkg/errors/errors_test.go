package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", ErrNotFound.WithDetail("id", "r1"), IsNotFound},
		{"validation", ErrValidation.WithCause(stderrors.New("bad")), IsValidation},
		{"conflict", ErrConflict, IsConflict},
		{"capacity", ErrCapacity.WithDetail("channel_id", "c1"), IsCapacity},
		{"configuration wrapped", fmt.Errorf("load: %w", ErrConfiguration), IsConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(stderrors.New("plain")))
		})
	}
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, ToHTTPStatus(ErrCapacity))
	assert.Equal(t, http.StatusUnprocessableEntity, ToHTTPStatus(ErrConfiguration))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("boom")))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrNotFound.WithDetail("id", "rule-1"))
	assert.Equal(t, "NOT_FOUND", resp.ErrorCode)
	assert.Equal(t, "rule-1", resp.Details["id"])

	resp = ToErrorResponse(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
}

func TestRetryableAndFatal(t *testing.T) {
	assert.False(t, ErrConfiguration.IsRetryable())
	assert.True(t, ErrConfiguration.IsFatal())
	assert.True(t, ErrServiceUnavailable.IsRetryable())
	assert.True(t, ErrServiceUnavailable.AsFatal().IsFatal())
}

func TestGuard(t *testing.T) {
	err := Guard(func() error {
		panic("kaboom")
	})
	require.Error(t, err)

	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, true, appErr.Details["panic"])
	assert.True(t, appErr.IsFatal())

	assert.NoError(t, Guard(func() error { return nil }))
}

func TestSentinelsAreNotMutated(t *testing.T) {
	decorated := ErrNotFound.WithDetail("id", "r1").WithCause(stderrors.New("missing"))
	assert.Equal(t, "r1", decorated.Details["id"])
	assert.Empty(t, ErrNotFound.Details)
	assert.Nil(t, ErrNotFound.Cause)

	again := decorated.WithDetail("id", "r2")
	assert.Equal(t, "r1", decorated.Details["id"])
	assert.Equal(t, "r2", again.Details["id"])
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, ErrInternal))

	err := Wrap(stderrors.New("db down"), ErrServiceUnavailable)
	assert.True(t, IsServiceUnavailable(err))
	assert.Contains(t, err.Error(), "db down")
}
