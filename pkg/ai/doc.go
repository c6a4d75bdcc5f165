// Package ai connects nan to text-generation services.
//
// The memory model only depends on the Generator interface:
//
//	type Generator interface {
//	    Generate(ctx context.Context, prompt string) (string, error)
//	}
//
// GenerateMemory runs a Generator and appends the result to an agent's log
// as exactly one item. A failed generation leaves the log untouched and
// returns an error wrapping ErrGenerationFailed.
//
// # Providers
//
//   - ollama: POST <base>/api/generate with streaming disabled
//     (default http://localhost:11434, model llama2)
//   - openai: Chat Completions through github.com/openai/openai-go; works
//     with any OpenAI-compatible base URL
//   - anthropic: Messages API through github.com/anthropics/anthropic-sdk-go
//
// NewGenerator picks a provider from Config.Provider:
//
//	gen, err := ai.NewGenerator(ai.Config{
//	    Provider: ai.ProviderOllama,
//	    Model:    "llama3",
//	    Timeout:  30 * time.Second,
//	})
//
// Every provider sends its requests through an http.Client whose transport
// is instrumented with otelhttp, so calls show up as child spans of the
// memory operation that triggered them.
package ai
