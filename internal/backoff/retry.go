// Package backoff implements the retry combinator described in spec §4.2:
// invoke a thunk, and on a retryable error, re-invoke it after an
// exponentially growing delay, up to a bounded number of attempts.
package backoff

import (
	"context"
	"time"
)

// Config controls the delay schedule. Defaults per spec §4.2: N=4
// attempts, base=1s, mult=2 — producing waits of 1s, 2s, 4s between the
// four attempts (the fourth call is the last).
type Config struct {
	MaxAttempts int
	Base        time.Duration
	Multiplier  float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		Base:        1 * time.Second,
		Multiplier:  2,
	}
}

// ShouldRetry decides whether a given error warrants another attempt.
type ShouldRetry func(err error) bool

// Retry invokes f, retrying on errors for which shouldRetry returns true,
// sleeping base*mult^i between the i-th and (i+1)-th attempt (zero-based).
// It returns the first success or the final error. ctx cancellation aborts
// the wait between attempts.
func Retry(ctx context.Context, f func() error, shouldRetry ShouldRetry, cfg Config) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Base <= 0 {
		cfg.Base = DefaultConfig().Base
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}

	var lastErr error
	delay := cfg.Base

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = f()
		if lastErr == nil {
			return nil
		}

		attemptsRemaining := attempt < cfg.MaxAttempts-1
		if !attemptsRemaining || (shouldRetry != nil && !shouldRetry(lastErr)) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}

	return lastErr
}

// RetryAll is Retry with a predicate that treats every error as retryable.
func RetryAll(ctx context.Context, f func() error, cfg Config) error {
	return Retry(ctx, f, func(error) bool { return true }, cfg)
}
