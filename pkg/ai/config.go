package ai

import (
	"net/http"
	"time"

	"github.com/0x4133/nan/pkg/logger"
)

// Provider names accepted by Config.Provider.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Defaults applied by the provider constructors.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOllamaModel    = "llama2"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens      = 1024
)

// Config selects and configures a provider. Zero values take the defaults.
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// MaxTokens caps the response length for openai and anthropic.
	MaxTokens int64

	// HTTPClient overrides the instrumented client built from Timeout.
	HTTPClient *http.Client
	Logger     logger.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewHTTPClient(timeout)
}

func (c Config) maxTokens() int64 {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
