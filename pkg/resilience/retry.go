package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
	// RetryIf decides whether an error is worth another attempt. Nil retries
	// every error.
	RetryIf func(error) bool
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry runs fn until it succeeds, RetryIf rejects the error, attempts run
// out or ctx is done. The final error wraps both ErrMaxRetriesExceeded and
// the last failure.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		wait := delay
		if config.JitterEnabled && wait > 0 {
			// Up to 10% either way.
			wait += time.Duration((rand.Float64()*0.2 - 0.1) * float64(wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w: %w", attempts, ErrMaxRetriesExceeded, lastErr)
}

// RetryWithCircuitBreaker runs each attempt through cb. An open breaker ends
// the retry loop at once.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	wrapped := *config
	userRetryIf := config.RetryIf
	wrapped.RetryIf = func(err error) bool {
		if isOpen(err) {
			return false
		}
		return userRetryIf == nil || userRetryIf(err)
	}
	return Retry(ctx, &wrapped, func() error {
		return cb.Execute(ctx, fn)
	})
}
