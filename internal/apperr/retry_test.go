package apperr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsWithoutDelayOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), EmbeddingBackoff(), func(attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), cfg, func(attempt int) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2}
	err := Retry(ctx, cfg, func(attempt int) error {
		return errors.New("should not be called after cancel on later attempts")
	})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, BreakerClosed, cb.State())

	require.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
	assert.Equal(t, BreakerOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond)
	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	require.Equal(t, BreakerOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, BreakerHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, cb.State())
}
