package resilience

import "errors"

var (
	// ErrMaxRetriesExceeded is wrapped when every attempt failed.
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// ErrCircuitBreakerOpen is returned while the breaker rejects calls.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)
