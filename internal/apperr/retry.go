package apperr

import (
	"context"
	"time"
)

// BackoffConfig configures exponential backoff retry.
type BackoffConfig struct {
	MaxAttempts  int           // total attempts including the first, not additional retries
	InitialDelay time.Duration
	Multiplier   float64
}

// EmbeddingBackoff is the retry policy required for the text embedding
// service and the vision worker: base 500ms, doubling, at most 4 attempts.
func EmbeddingBackoff() BackoffConfig {
	return BackoffConfig{MaxAttempts: 4, InitialDelay: 500 * time.Millisecond, Multiplier: 2.0}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts, stopping early on context cancellation or once fn succeeds. If
// every attempt fails, the last error is returned wrapped as a Cancelled
// error when caused by ctx, otherwise returned unwrapped so the caller can
// classify it (e.g. into an Embedding error).
func Retry(ctx context.Context, cfg BackoffConfig, fn func(attempt int) error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Cancelled(ctx.Err())
		default:
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if IsCancelled(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Cancelled(ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}

	return lastErr
}
