package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/telemetry"
)

// OpenAIClient generates text with the Chat Completions API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int64
	logger    logger.Logger
}

// NewOpenAIClient creates a client from cfg. Retries are left to the
// caller, so the SDK's own retry loop is disabled.
func NewOpenAIClient(cfg Config) *OpenAIClient {
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
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client:    &client,
		model:     orDefault(cfg.Model, DefaultOpenAIModel),
		maxTokens: cfg.maxTokens(),
		logger:    logger.ForComponent(cfg.Logger, "ai/openai"),
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ai.openai.generate",
		attribute.String("ai.provider", ProviderOpenAI),
		attribute.String("ai.model", c.model),
	)
	defer func() {
		telemetry.RecordSpanError(span, err)
		span.End()
	}()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:               c.model,
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		c.logger.Error("OpenAI request failed", map[string]interface{}{
			"operation": "ai_generate",
			"model":     c.model,
			"error":     err,
		})
		return "", fmt.Errorf("%w: openai api error: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrGenerationFailed)
	}

	text = resp.Choices[0].Message.Content
	c.logger.Debug("OpenAI generation complete", map[string]interface{}{
		"operation":         "ai_generate",
		"model":             c.model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})
	return text, nil
}
