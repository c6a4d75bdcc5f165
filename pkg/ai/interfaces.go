package ai

import (
	"context"
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// MemoryAppender receives generated items. *memory.Agent implements it.
type MemoryAppender interface {
	AddMemory(ctx context.Context, item string) error
}
