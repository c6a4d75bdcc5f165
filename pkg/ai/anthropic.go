package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/telemetry"
)

// AnthropicClient generates text with the Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    logger.Logger
}

// NewAnthropicClient creates a client from cfg with SDK retries disabled.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     orDefault(cfg.Model, DefaultAnthropicModel),
		maxTokens: cfg.maxTokens(),
		logger:    logger.ForComponent(cfg.Logger, "ai/anthropic"),
	}
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return c.model }

func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ai.anthropic.generate",
		attribute.String("ai.provider", ProviderAnthropic),
		attribute.String("ai.model", c.model),
	)
	defer func() {
		telemetry.RecordSpanError(span, err)
		span.End()
	}()

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		c.logger.Error("Anthropic request failed", map[string]interface{}{
			"operation": "ai_generate",
			"model":     c.model,
			"error":     err,
		})
		return "", fmt.Errorf("%w: anthropic api error: %w", ErrGenerationFailed, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}

	c.logger.Debug("Anthropic generation complete", map[string]interface{}{
		"operation":     "ai_generate",
		"model":         c.model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"stop_reason":   string(resp.StopReason),
	})
	return b.String(), nil
}
