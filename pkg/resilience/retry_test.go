package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}
}

// TestRetryBasicSuccess tests successful execution on first attempt
func TestRetryBasicSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

// TestRetryEventualSuccess tests success after multiple attempts
func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected eventual success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryMaxAttemptsExceeded checks both the sentinel and the last error are wrapped
func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	testErr := errors.New("persistent error")

	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return testErr
	})

	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected last error to be wrapped, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryIfStopsEarly tests that non-retryable errors are returned at once
func TestRetryIfStopsEarly(t *testing.T) {
	permanent := errors.New("bad request")
	config := fastConfig()
	config.RetryIf = func(err error) bool { return !errors.Is(err, permanent) }

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return permanent
	})

	if err != permanent {
		t.Errorf("Expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

// TestRetryContextCancellation tests that cancellation interrupts backoff
func TestRetryContextCancellation(t *testing.T) {
	config := fastConfig()
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	testErr := errors.New("still failing")
	err := Retry(ctx, config, func() error { return testErr })

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Expected last error to be kept, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Retry did not stop on cancellation, took %v", elapsed)
	}
}

// TestRetryNilConfig tests that defaults are used
func TestRetryNilConfig(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), nil, func() error {
		attempts++
		return nil
	})
	if err != nil || attempts != 1 {
		t.Errorf("Expected one successful attempt, got %d attempts, err %v", attempts, err)
	}
}

// TestRetryWithOpenCircuit tests that an open breaker ends retries
func TestRetryWithOpenCircuit(t *testing.T) {
	cb, err := NewCircuitBreaker(&CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SleepWindow:      time.Minute,
		HalfOpenRequests: 1,
	})
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	calls := 0
	err = RetryWithCircuitBreaker(context.Background(), fastConfig(), cb, func() error {
		calls++
		return errors.New("down")
	})

	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call before the circuit opened, got %d", calls)
	}
}
