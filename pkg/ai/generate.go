package ai

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/0x4133/nan/pkg/telemetry"
)

// GenerateMemory asks gen for text and appends it to dst as one item. On a
// generation failure dst is not touched and the error wraps
// ErrGenerationFailed. An append failure is returned as is.
func GenerateMemory(ctx context.Context, gen Generator, dst MemoryAppender, prompt string) (text string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ai.generate_memory", attribute.Int("prompt.length", len(prompt)))
	defer func() {
		telemetry.RecordSpanError(span, err)
		span.End()
	}()

	text, err = gen.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, ErrGenerationFailed) {
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		return "", err
	}

	if err := dst.AddMemory(ctx, text); err != nil {
		return "", err
	}
	telemetry.AddSpanEvent(ctx, "memory.item.appended", attribute.Int("text.length", len(text)))
	return text, nil
}
