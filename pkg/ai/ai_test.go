package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x4133/nan/pkg/ai"
)

type recordingAppender struct {
	items []string
	err   error
}

func (r *recordingAppender) AddMemory(_ context.Context, item string) error {
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, item)
	return nil
}

func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama2", body["model"])
		assert.Equal(t, "say hi", body["prompt"])
		assert.Equal(t, false, body["stream"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"llama2","response":"hi there","done":true}`)
	}))
	defer server.Close()

	client := ai.NewOllamaClient(ai.Config{BaseURL: server.URL + "/"})
	assert.Equal(t, "llama2", client.Model())

	text, err := client.Generate(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestOllamaMissingResponseField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"done":true}`)
	}))
	defer server.Close()

	text, err := ai.NewOllamaClient(ai.Config{BaseURL: server.URL}).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestOllamaFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"response":`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := ai.NewOllamaClient(ai.Config{BaseURL: server.URL}).Generate(context.Background(), "p")
			assert.ErrorIs(t, err, ai.ErrGenerationFailed)
		})
	}
}

func TestOllamaStatusInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := ai.NewOllamaClient(ai.Config{BaseURL: server.URL}).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestOllamaTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := ai.NewOllamaClient(ai.Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
}

func TestOllamaUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := ai.NewOllamaClient(ai.Config{BaseURL: url}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
}

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "local-model", body["model"])
		messages, ok := body["messages"].([]interface{})
		require.True(t, ok)
		require.Len(t, messages, 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "local-model",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "generated"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
		}`)
	}))
	defer server.Close()

	client := ai.NewOpenAIClient(ai.Config{
		BaseURL: server.URL + "/",
		APIKey:  "test-key",
		Model:   "local-model",
	})
	text, err := client.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "generated", text)
}

func TestOpenAIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := ai.NewOpenAIClient(ai.Config{BaseURL: server.URL + "/", APIKey: "wrong"})
	_, err := client.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
}

func TestAnthropicGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])
		assert.EqualValues(t, 64, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 2, "output_tokens": 2}
		}`)
	}))
	defer server.Close()

	client := ai.NewAnthropicClient(ai.Config{
		BaseURL:   server.URL + "/",
		APIKey:    "test-key",
		Model:     "claude-test",
		MaxTokens: 64,
	})
	text, err := client.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestAnthropicFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"nope"}}`)
	}))
	defer server.Close()

	_, err := ai.NewAnthropicClient(ai.Config{BaseURL: server.URL + "/", APIKey: "k"}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		provider string
		want     interface{}
	}{
		{"", &ai.OllamaClient{}},
		{"ollama", &ai.OllamaClient{}},
		{"OpenAI", &ai.OpenAIClient{}},
		{"anthropic", &ai.AnthropicClient{}},
	}
	for _, tt := range tests {
		t.Run("provider_"+tt.provider, func(t *testing.T) {
			gen, err := ai.NewGenerator(ai.Config{Provider: tt.provider, APIKey: "k"})
			require.NoError(t, err)
			assert.IsType(t, tt.want, gen)
		})
	}

	_, err := ai.NewGenerator(ai.Config{Provider: "carrier-pigeon"})
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
}

func TestGenerateMemoryAppendsOnce(t *testing.T) {
	dst := &recordingAppender{}
	gen := ai.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "answer to " + prompt, nil
	})

	text, err := ai.GenerateMemory(context.Background(), gen, dst, "q")
	require.NoError(t, err)
	assert.Equal(t, "answer to q", text)
	assert.Equal(t, []string{"answer to q"}, dst.items)
}

func TestGenerateMemoryFailureLeavesLog(t *testing.T) {
	dst := &recordingAppender{}
	gen := ai.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("connection refused")
	})

	_, err := ai.GenerateMemory(context.Background(), gen, dst, "q")
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)
	assert.Empty(t, dst.items)
}

func TestGenerateMemoryAppendFailure(t *testing.T) {
	storeErr := errors.New("store down")
	dst := &recordingAppender{err: storeErr}
	gen := ai.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "text", nil
	})

	_, err := ai.GenerateMemory(context.Background(), gen, dst, "q")
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ai.ErrGenerationFailed)
}
