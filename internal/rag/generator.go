package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// ModelGenerator is the hosted-API generation backend, backed by a Genkit
// model.
type ModelGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewModelGenerator creates a generator for the given provider-qualified
// model name (e.g. "googleai/gemini-2.5-flash").
func NewModelGenerator(g *genkit.Genkit, model string) *ModelGenerator {
	return &ModelGenerator{g: g, model: model}
}

// Generate runs a single completion and returns the full text.
func (m *ModelGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, m.g,
		ai.WithModelName(m.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", m.model, err)
	}
	return resp.Text(), nil
}

// GenerateStream runs a completion in streaming mode, invoking fn for each
// text increment as it is produced. Returning an error from fn cancels the
// stream.
func (m *ModelGenerator) GenerateStream(ctx context.Context, system, prompt string, fn func(text string) error) error {
	_, err := genkit.Generate(ctx, m.g,
		ai.WithModelName(m.model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			return fn(chunk.Text())
		}),
	)
	if err != nil {
		return fmt.Errorf("streaming with %s: %w", m.model, err)
	}
	return nil
}
