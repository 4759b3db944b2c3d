// Package retrieval embeds passages into a similarity index and finds the
// passages closest to a question.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/sangam/internal/engine"
)

// DefaultBatchSize is the number of texts sent per embedding request.
const DefaultBatchSize = 32

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine    engine.Engine
	model     string
	batchSize int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model, batchSize: DefaultBatchSize}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts, sending them in
// batches with bounded concurrency. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.EmbedBatch(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
