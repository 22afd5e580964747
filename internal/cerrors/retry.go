package cerrors

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures generic exponential backoff.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig mirrors the embedding client's defaults: base
// retry_delay, factor 2, capped at 120s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     120 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry runs fn, retrying on error with exponential backoff until
// MaxRetries is exhausted or ctx is cancelled. It stops immediately if fn
// returns a fatal (non-retryable) *CodeError.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ce, ok := err.(*CodeError); ok && !ce.Retryable {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("retry: exhausted %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
