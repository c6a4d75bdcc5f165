package config

import (
	"fmt"
	"time"

	"github.com/0x4133/nan/pkg/memory"
)

// WithConfigFile overlays the file at path. Options after it override the file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		return c.LoadFromFile(path)
	}
}

// WithRedisURL sets the Redis connection URL and selects the redis store.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("redis URL must not be empty: %w", memory.ErrInvalidConfiguration)
		}
		c.Redis.URL = url
		c.Store.Provider = StoreRedis
		return nil
	}
}

// WithRedisDB selects a Redis database number.
func WithRedisDB(db int) Option {
	return func(c *Config) error {
		c.Redis.DB = db
		return nil
	}
}

// WithNamespace prefixes every stored key with "<ns>:".
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		c.Redis.Namespace = ns
		return nil
	}
}

// WithStoreProvider selects "redis" or "memory".
func WithStoreProvider(provider string) Option {
	return func(c *Config) error {
		c.Store.Provider = provider
		return nil
	}
}

// WithOperationTimeout bounds each command.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Memory.OperationTimeout = d
		return nil
	}
}

// WithLockProvider selects "local" or "store" locking with the given TTL.
// A zero ttl keeps the current one.
func WithLockProvider(provider string, ttl time.Duration) Option {
	return func(c *Config) error {
		c.Memory.LockProvider = provider
		if ttl > 0 {
			c.Memory.LockTTL = ttl
		}
		return nil
	}
}

// WithGeneration selects the generation provider and model. An empty model
// keeps the provider default.
func WithGeneration(provider, model string) Option {
	return func(c *Config) error {
		c.Generation.Provider = provider
		c.Generation.Model = model
		return nil
	}
}

// WithGenerationURL overrides the provider base URL.
func WithGenerationURL(url string) Option {
	return func(c *Config) error {
		c.Generation.BaseURL = url
		return nil
	}
}

// WithAPIKey sets the generation provider API key.
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.Generation.APIKey = key
		return nil
	}
}

// WithGenerationTimeout bounds each generation request.
func WithGenerationTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Generation.Timeout = d
		return nil
	}
}

// WithRetry configures retries.
func WithRetry(maxAttempts int, initialInterval time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.Retry.MaxAttempts = maxAttempts
		c.Resilience.Retry.InitialInterval = initialInterval
		return nil
	}
}

// WithCircuitBreaker enables the generation circuit breaker.
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Config) error {
		c.Resilience.CircuitBreaker.Enabled = true
		c.Resilience.CircuitBreaker.Threshold = threshold
		c.Resilience.CircuitBreaker.Timeout = timeout
		return nil
	}
}

// WithLogLevel sets the minimum log level.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Logging.Level = level
		return nil
	}
}

// WithLogFormat sets "json" or "text" output.
func WithLogFormat(format string) Option {
	return func(c *Config) error {
		c.Logging.Format = format
		return nil
	}
}

// WithTelemetry enables tracing through exporter. endpoint is only used by otlp.
func WithTelemetry(exporter, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = exporter
		if endpoint != "" {
			c.Telemetry.Endpoint = endpoint
		}
		return nil
	}
}
