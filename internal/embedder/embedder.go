// Package embedder provides the embedding gateway: implementations that
// convert text into dense vector embeddings via plain HTTP (Ollama, OpenAI,
// Azure OpenAI), plus a batching wrapper that bounds request size and
// enforces the deployment's fixed vector dimensionality.
package embedder

import (
	"context"
	"fmt"

	"github.com/showdoc/docqa/internal/fault"
)

// Embedder converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. Implementations must be
// safe to call from multiple goroutines.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Batcher wraps an Embedder, splitting large inputs into bounded batches and
// validating that every returned vector has the deployment's fixed dimension.
// If any batch fails, the whole call fails — callers own the retry policy.
type Batcher struct {
	inner    Embedder
	model    string
	dim      int
	maxBatch int
}

// NewBatcher constructs a Batcher. model and dim identify the deployment's
// embedding model; maxBatch bounds texts per upstream call (default 50, the
// batch size the indexing pipeline was tuned for).
func NewBatcher(inner Embedder, model string, dim, maxBatch int) (*Batcher, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedder: inner embedder must not be nil")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedder: dimension must be positive, got %d", dim)
	}
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &Batcher{inner: inner, model: model, dim: dim, maxBatch: maxBatch}, nil
}

// Model returns the embedding model identifier.
func (b *Batcher) Model() string { return b.model }

// Dim returns the fixed vector dimensionality.
func (b *Batcher) Dim() int { return b.dim }

// Embed splits texts into batches of at most maxBatch, embeds each batch in
// order, and returns vectors positionally aligned with the input. A vector
// whose length differs from the configured dimension is rejected outright —
// it would corrupt the index.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.maxBatch {
		end := start + b.maxBatch
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := b.inner.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vectors) != end-start {
			return nil, fault.Transient("embed.batch",
				fmt.Errorf("expected %d vectors, got %d", end-start, len(vectors)))
		}
		for i, v := range vectors {
			if len(v) != b.dim {
				return nil, fault.Invalid("embed.batch",
					"vector %d has dimension %d, want %d (model %s)", start+i, len(v), b.dim, b.model)
			}
		}
		out = append(out, vectors...)
	}

	return out, nil
}
