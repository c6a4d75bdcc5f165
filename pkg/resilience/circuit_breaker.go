package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0x4133/nan/pkg/logger"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors count toward the failure threshold.
type ErrorClassifier func(error) bool

// DefaultErrorClassifier counts every error except caller cancellation.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive counted failures that opens the circuit.
	FailureThreshold int
	// SleepWindow is how long the circuit stays open before a trial call.
	SleepWindow time.Duration
	// HalfOpenRequests is how many trial calls must succeed to close again.
	HalfOpenRequests int
	ErrorClassifier  ErrorClassifier
	Logger           logger.Logger
}

// DefaultConfig returns the defaults used for generation providers.
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		FailureThreshold: 5,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 1,
		ErrorClassifier:  DefaultErrorClassifier,
	}
}

// Validate checks the configuration.
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SleepWindow <= 0 {
		return fmt.Errorf("sleep window must be positive, got %s", c.SleepWindow)
	}
	if c.HalfOpenRequests < 1 {
		return fmt.Errorf("half-open requests must be at least 1, got %d", c.HalfOpenRequests)
	}
	return nil
}

// CircuitBreaker stops calling a failing dependency for a while.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger logger.Logger
	now    func() time.Time

	mu                sync.Mutex
	state             CircuitState
	failures          int
	openedAt          time.Time
	halfOpenInFlight  int
	halfOpenSuccesses int
	rejected          uint64
	executions        uint64
}

// NewCircuitBreaker validates config and creates a closed breaker.
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	return &CircuitBreaker{
		config: cfg,
		logger: logger.ForComponent(cfg.Logger, "resilience/circuit_breaker"),
		now:    time.Now,
	}, nil
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !cb.acquire() {
		cb.logger.Info("Circuit breaker rejected execution", map[string]interface{}{
			"operation":     "circuit_breaker_reject",
			"name":          cb.config.Name,
			"current_state": cb.GetState(),
		})
		return fmt.Errorf("circuit breaker '%s' is open: %w", cb.config.Name, ErrCircuitBreakerOpen)
	}
	err := fn()
	cb.complete(err)
	return err
}

// CanExecute reports whether a call would currently be let through.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.currentStateLocked() {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.halfOpenInFlight < cb.config.HalfOpenRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateClosed:
		cb.executions++
		return true
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenRequests {
			cb.rejected++
			return false
		}
		cb.halfOpenInFlight++
		cb.executions++
		return true
	default:
		cb.rejected++
		return false
	}
}

// currentStateLocked moves open to half-open once the sleep window passed.
func (cb *CircuitBreaker) currentStateLocked() CircuitState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.SleepWindow {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) complete(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counted := cb.config.ErrorClassifier(err)

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight--
		if counted {
			cb.transitionLocked(StateOpen)
			return
		}
		if err == nil {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.config.HalfOpenRequests {
				cb.transitionLocked(StateClosed)
			}
		}
	case StateClosed:
		if !counted {
			if err == nil {
				cb.failures = 0
			}
			return
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateHalfOpen:
		cb.halfOpenInFlight = 0
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.failures = 0
	}

	fields := map[string]interface{}{
		"operation":  "circuit_breaker_state_change",
		"name":       cb.config.Name,
		"from_state": from.String(),
		"to_state":   to.String(),
	}
	if to == StateOpen {
		cb.logger.Warn("Circuit breaker opened", fields)
		return
	}
	cb.logger.Info("Circuit breaker state changed", fields)
}

// GetState returns the current state name.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked().String()
}

// GetMetrics returns a snapshot of counters.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":                 cb.config.Name,
		"state":                cb.currentStateLocked().String(),
		"consecutive_failures": cb.failures,
		"total_executions":     cb.executions,
		"rejected_executions":  cb.rejected,
	}
}

// Reset closes the circuit and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.rejected = 0
	cb.executions = 0
}

func isOpen(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen)
}
