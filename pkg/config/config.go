package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0x4133/nan/pkg/ai"
	"github.com/0x4133/nan/pkg/memory"
	"github.com/0x4133/nan/pkg/telemetry"
)

// Store providers.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Lock providers.
const (
	LockLocal = "local"
	LockStore = "store"
)

// Config is the complete runtime configuration.
type Config struct {
	ServiceName string `json:"service_name" yaml:"service_name"`

	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
}

// RedisConfig locates the Redis server.
type RedisConfig struct {
	URL         string        `json:"url" yaml:"url"`
	DB          int           `json:"db" yaml:"db"`
	Namespace   string        `json:"namespace" yaml:"namespace"`
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Provider is "redis" or "memory". The memory store does not outlive the process.
	Provider string `json:"provider" yaml:"provider"`
}

// MemoryConfig tunes agent and pool operations.
type MemoryConfig struct {
	// OperationTimeout bounds every command, including lock waits.
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	// LockProvider is "local" for one process or "store" for several
	// processes sharing one store.
	LockProvider  string        `json:"lock_provider" yaml:"lock_provider"`
	LockTTL       time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
	LockRetryWait time.Duration `json:"lock_retry_wait" yaml:"lock_retry_wait"`
	IDAttempts    int           `json:"id_attempts" yaml:"id_attempts"`
}

// GenerationConfig configures the text generation provider.
type GenerationConfig struct {
	Provider  string        `json:"provider" yaml:"provider"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model" yaml:"model"`
	APIKey    string        `json:"-" yaml:"-"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	MaxTokens int64         `json:"max_tokens" yaml:"max_tokens"`
}

// ResilienceConfig configures retries and the generation circuit breaker.
type ResilienceConfig struct {
	Retry          RetryConfig          `json:"retry" yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// RetryConfig configures retries of read-only and generation calls.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" yaml:"max_interval"`
}

// CircuitBreakerConfig configures the breaker around the generation provider.
type CircuitBreakerConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Threshold int           `json:"threshold" yaml:"threshold"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// LoggingConfig configures the production logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// TelemetryConfig configures tracing and metric export.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`

	// MetricsEndpoint is an OTLP/HTTP host:port; empty disables metric export.
	MetricsEndpoint string        `json:"metrics_endpoint" yaml:"metrics_endpoint"`
	MetricsInterval time.Duration `json:"metrics_interval" yaml:"metrics_interval"`
}

// Option configures a Config.
type Option func(*Config) error

// DefaultConfig returns the configuration used when nothing is set: a local
// Redis, in-process locks and a local Ollama.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "nan",
		Redis: RedisConfig{
			URL:         "redis://localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		Store: StoreConfig{Provider: StoreRedis},
		Memory: MemoryConfig{
			OperationTimeout: 10 * time.Second,
			LockProvider:     LockLocal,
			LockTTL:          memory.DefaultLockTTL,
			LockRetryWait:    memory.DefaultLockRetryWait,
			IDAttempts:       memory.DefaultIDAttempts,
		},
		Generation: GenerationConfig{
			Provider:  ai.ProviderOllama,
			Timeout:   ai.DefaultTimeout,
			MaxTokens: ai.DefaultMaxTokens,
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:   true,
				Threshold: 5,
				Timeout:   30 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Exporter:    telemetry.ExporterOTLP,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1.0,

			MetricsInterval: telemetry.DefaultMetricsInterval,
		},
	}
}

// LoadFromEnv overrides fields from environment variables. Malformed numbers,
// durations and booleans are reported rather than ignored.
func (c *Config) LoadFromEnv() error {
	e := envReader{}

	e.str(&c.ServiceName, "NAN_SERVICE_NAME", "OTEL_SERVICE_NAME")

	// Redis
	e.str(&c.Redis.URL, "NAN_REDIS_URL", "REDIS_URL")
	e.integer(&c.Redis.DB, "NAN_REDIS_DB")
	e.str(&c.Redis.Namespace, "NAN_NAMESPACE")
	e.duration(&c.Redis.DialTimeout, "NAN_REDIS_DIAL_TIMEOUT")

	// Store and memory
	e.str(&c.Store.Provider, "NAN_STORE_PROVIDER")
	e.duration(&c.Memory.OperationTimeout, "NAN_OPERATION_TIMEOUT")
	e.str(&c.Memory.LockProvider, "NAN_LOCK_PROVIDER")
	e.duration(&c.Memory.LockTTL, "NAN_LOCK_TTL")
	e.duration(&c.Memory.LockRetryWait, "NAN_LOCK_RETRY_WAIT")
	e.integer(&c.Memory.IDAttempts, "NAN_ID_ATTEMPTS")

	// Generation
	e.str(&c.Generation.Provider, "NAN_GENERATION_PROVIDER")
	e.str(&c.Generation.Model, "NAN_GENERATION_MODEL")
	e.duration(&c.Generation.Timeout, "NAN_GENERATION_TIMEOUT")
	e.integer64(&c.Generation.MaxTokens, "NAN_GENERATION_MAX_TOKENS")
	e.str(&c.Generation.BaseURL, "NAN_GENERATION_URL")
	e.str(&c.Generation.APIKey, "NAN_GENERATION_API_KEY")

	// Resilience
	e.integer(&c.Resilience.Retry.MaxAttempts, "NAN_RETRY_ATTEMPTS")
	e.duration(&c.Resilience.Retry.InitialInterval, "NAN_RETRY_INITIAL_INTERVAL")
	e.duration(&c.Resilience.Retry.MaxInterval, "NAN_RETRY_MAX_INTERVAL")
	e.boolean(&c.Resilience.CircuitBreaker.Enabled, "NAN_CIRCUIT_ENABLED")
	e.integer(&c.Resilience.CircuitBreaker.Threshold, "NAN_CIRCUIT_THRESHOLD")
	e.duration(&c.Resilience.CircuitBreaker.Timeout, "NAN_CIRCUIT_TIMEOUT")

	// Logging
	e.str(&c.Logging.Level, "NAN_LOG_LEVEL")
	e.str(&c.Logging.Format, "NAN_LOG_FORMAT")

	// Telemetry
	e.boolean(&c.Telemetry.Enabled, "NAN_TELEMETRY_ENABLED")
	e.str(&c.Telemetry.Exporter, "NAN_TELEMETRY_EXPORTER")
	e.str(&c.Telemetry.Endpoint, "NAN_TELEMETRY_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	e.str(&c.Telemetry.MetricsEndpoint, "NAN_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	e.duration(&c.Telemetry.MetricsInterval, "NAN_METRICS_INTERVAL")

	c.applyProviderEnv()
	return e.err
}

// applyProviderEnv fills the API key and base URL from the variables the
// provider's own tooling uses, when they are not already set.
func (c *Config) applyProviderEnv() {
	var keyVar, urlVar string
	switch c.Generation.Provider {
	case ai.ProviderOpenAI:
		keyVar = "OPENAI_API_KEY"
	case ai.ProviderAnthropic:
		keyVar = "ANTHROPIC_API_KEY"
	case ai.ProviderOllama:
		urlVar = "OLLAMA_HOST"
	}
	if keyVar != "" && c.Generation.APIKey == "" {
		c.Generation.APIKey = os.Getenv(keyVar)
	}
	if urlVar != "" && c.Generation.BaseURL == "" {
		c.Generation.BaseURL = normalizeOllamaHost(os.Getenv(urlVar))
	}
}

// normalizeOllamaHost accepts OLLAMA_HOST in its bare host:port form.
func normalizeOllamaHost(v string) string {
	if v == "" || strings.Contains(v, "://") {
		return v
	}
	return "http://" + v
}

// envReader reads variables into fields and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(names ...string) (string, string, bool) {
	for _, name := range names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return name, v, true
		}
	}
	return "", "", false
}

func (e *envReader) fail(name, value string, err error) {
	if e.err == nil {
		e.err = &memory.OperationError{
			Op:      "config.env",
			Kind:    "config",
			Message: fmt.Sprintf("invalid value %q for %s", value, name),
			Err:     fmt.Errorf("%s: %w: %w", name, memory.ErrInvalidConfiguration, err),
		}
	}
}

func (e *envReader) str(dst *string, names ...string) {
	if _, v, ok := e.lookup(names...); ok {
		*dst = v
	}
}

func (e *envReader) integer(dst *int, names ...string) {
	if name, v, ok := e.lookup(names...); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) integer64(dst *int64, names ...string) {
	if name, v, ok := e.lookup(names...); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(dst *time.Duration, names ...string) {
	if name, v, ok := e.lookup(names...); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) boolean(dst *bool, names ...string) {
	if name, v, ok := e.lookup(names...); ok {
		b, err := parseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

// parseBool accepts true/false, 1/0, yes/no and on/off, case-insensitively.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, errors.New("not a boolean")
	}
}

// LoadFromFile overlays a JSON (.json) or YAML (.yaml, .yml) file. Fields
// missing from the file keep their current values. Durations are Go duration
// strings in YAML ("5s") and nanoseconds in JSON.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %q: %w", ext, memory.ErrInvalidConfiguration)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config file %s: %w: %w", cleanPath, memory.ErrInvalidConfiguration, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file %s: %w: %w", cleanPath, memory.ErrInvalidConfiguration, err)
		}
	}
	return nil
}

// Validate checks the configuration. Errors wrap ErrInvalidConfiguration.
func (c *Config) Validate() error {
	invalid := func(msg string, args ...interface{}) error {
		return &memory.OperationError{
			Op:      "config.validate",
			Kind:    "config",
			Message: fmt.Sprintf(msg, args...),
			Err:     fmt.Errorf("%w: %s", memory.ErrInvalidConfiguration, fmt.Sprintf(msg, args...)),
		}
	}

	switch c.Store.Provider {
	case StoreRedis:
		if c.Redis.URL == "" {
			return invalid("redis URL is required for the redis store")
		}
	case StoreMemory:
	default:
		return invalid("unknown store provider %q", c.Store.Provider)
	}
	if c.Redis.DB < 0 {
		return invalid("redis DB must not be negative, got %d", c.Redis.DB)
	}

	if c.Memory.OperationTimeout <= 0 {
		return invalid("operation timeout must be positive, got %s", c.Memory.OperationTimeout)
	}
	switch c.Memory.LockProvider {
	case LockLocal:
	case LockStore:
		if c.Memory.LockTTL <= 0 {
			return invalid("lock TTL must be positive, got %s", c.Memory.LockTTL)
		}
	default:
		return invalid("unknown lock provider %q", c.Memory.LockProvider)
	}
	if c.Memory.IDAttempts < 1 {
		return invalid("id attempts must be at least 1, got %d", c.Memory.IDAttempts)
	}

	switch c.Generation.Provider {
	case ai.ProviderOllama:
	case ai.ProviderOpenAI, ai.ProviderAnthropic:
		if c.Generation.APIKey == "" {
			return invalid("API key is required for the %s generation provider", c.Generation.Provider)
		}
	default:
		return invalid("unknown generation provider %q", c.Generation.Provider)
	}
	if c.Generation.Timeout <= 0 {
		return invalid("generation timeout must be positive, got %s", c.Generation.Timeout)
	}

	if c.Resilience.Retry.MaxAttempts < 1 {
		return invalid("retry attempts must be at least 1, got %d", c.Resilience.Retry.MaxAttempts)
	}
	if cb := c.Resilience.CircuitBreaker; cb.Enabled && (cb.Threshold < 1 || cb.Timeout <= 0) {
		return invalid("circuit breaker needs a positive threshold and timeout")
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Exporter {
		case telemetry.ExporterOTLP, telemetry.ExporterOTLPHTTP:
			if c.Telemetry.Endpoint == "" {
				return invalid("telemetry endpoint is required for the %s exporter", c.Telemetry.Exporter)
			}
		case telemetry.ExporterStdout, telemetry.ExporterNone:
		default:
			return invalid("unknown telemetry exporter %q", c.Telemetry.Exporter)
		}
	}
	return nil
}

// AIConfig converts the generation section for ai.NewGenerator.
func (c *Config) AIConfig() ai.Config {
	return ai.Config{
		Provider:  c.Generation.Provider,
		BaseURL:   c.Generation.BaseURL,
		Model:     c.Generation.Model,
		APIKey:    c.Generation.APIKey,
		Timeout:   c.Generation.Timeout,
		MaxTokens: c.Generation.MaxTokens,
	}
}

// TelemetryConfig converts the telemetry section for telemetry.Setup.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:     c.Telemetry.Enabled,
		Exporter:    c.Telemetry.Exporter,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		ServiceName: c.ServiceName,
		Version:     version,
		SampleRatio: c.Telemetry.SampleRatio,

		MetricsEndpoint: c.Telemetry.MetricsEndpoint,
		MetricsInterval: c.Telemetry.MetricsInterval,
	}
}

// NewConfig builds a configuration from defaults, an optional file named by
// NAN_CONFIG_FILE, the environment and opts, then validates it.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("NAN_CONFIG_FILE"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	cfg.applyProviderEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
