package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/telemetry"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// OllamaClient calls the Ollama /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     logger.Logger
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a client from cfg.
func NewOllamaClient(cfg Config) *OllamaClient {
	return &OllamaClient{
		baseURL:    strings.TrimRight(orDefault(cfg.BaseURL, DefaultOllamaURL), "/"),
		model:      orDefault(cfg.Model, DefaultOllamaModel),
		httpClient: cfg.httpClient(),
		logger:     logger.ForComponent(cfg.Logger, "ai/ollama"),
	}
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Generate(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ai.ollama.generate",
		attribute.String("ai.provider", ProviderOllama),
		attribute.String("ai.model", c.model),
	)
	defer func() {
		telemetry.RecordSpanError(span, err)
		span.End()
	}()

	payload, err := json.Marshal(ollamaRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %w", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Ollama request failed", map[string]interface{}{
			"operation": "ai_generate",
			"model":     c.model,
			"error":     err,
		})
		return "", fmt.Errorf("%w: HTTP request failed: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Ollama returned an error status", map[string]interface{}{
			"operation":   "ai_generate",
			"model":       c.model,
			"status_code": resp.StatusCode,
		})
		return "", fmt.Errorf("%w: ollama returned status %d: %s", ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrGenerationFailed, err)
	}

	c.logger.Debug("Ollama generation complete", map[string]interface{}{
		"operation":       "ai_generate",
		"model":           c.model,
		"response_length": len(out.Response),
	})
	return out.Response, nil
}
