// Package embed wraps a Genkit ai.Embedder behind the batched text-to-vector
// contract the indexing and retrieval layers consume.
//
// The generator is deterministic for a fixed model version: the same input
// batch always produces the same vectors. Model loading and registration
// happen once at startup (app.Setup); this package only issues encode calls.
package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"

	"github.com/tessera-kb/tessera/internal/log"
)

// Dimension is the vector width requested from the embedding model.
// The pgvector column in db/migrations must match this value.
const Dimension = 768

// ErrEmptyEmbedding indicates the model returned no vector for an input.
var ErrEmptyEmbedding = errors.New("embedder returned an empty embedding")

// ErrDimension indicates the model returned a vector of the wrong width.
// Such vectors would be rejected by the vector(768) column anyway; failing
// here keeps the schema constraint out of the error path.
var ErrDimension = errors.New("embedding dimension mismatch")

// Generator converts batches of text into fixed-dimension vectors.
type Generator struct {
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Generator around a registered Genkit embedder.
func New(embedder ai.Embedder, logger log.Logger) *Generator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{embedder: embedder, logger: logger}
}

// Embed encodes texts in a single batched request. The result preserves input
// order: vector i corresponds to texts[i]. An empty input returns nil without
// calling the model.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]*ai.Document, len(texts))
	for i, t := range texts {
		input[i] = ai.DocumentFromText(t, nil)
	}

	// gemini-embedding-001 emits 3072 dimensions by default but supports
	// Matryoshka truncation down to the schema's width.
	dim := int32(Dimension)
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   input,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("generating embeddings for %d texts: %w", len(texts), err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("input %d: %w", i, ErrEmptyEmbedding)
		}
		if len(e.Embedding) != Dimension {
			return nil, fmt.Errorf("input %d: got %d dimensions, want %d: %w", i, len(e.Embedding), Dimension, ErrDimension)
		}
		vectors[i] = e.Embedding
	}

	g.logger.Debug("embedded batch", "texts", len(texts), "dimension", len(vectors[0]))
	return vectors, nil
}

// EmbedOne encodes a single text. Convenience wrapper over Embed for query
// paths.
func (g *Generator) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
