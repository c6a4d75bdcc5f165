// Package resilience provides retry with exponential backoff and a circuit
// breaker for calls to external services.
//
// The memory core never retries on its own. The service layer wraps the
// generation provider and read-only store calls:
//
//	cb, _ := resilience.NewCircuitBreaker(resilience.DefaultConfig())
//	err := resilience.RetryWithCircuitBreaker(ctx, resilience.DefaultRetryConfig(), cb, func() error {
//	    text, err = gen.Generate(ctx, prompt)
//	    return err
//	})
//
// Structural memory operations (detach, attach, load) are not retried: a
// retry after an ambiguous failure could move a bundle twice.
package resilience
