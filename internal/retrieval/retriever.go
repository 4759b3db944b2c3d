package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/sangam/internal/vectorindex"
)

// Passage is a chunk of extracted text waiting to be indexed.
type Passage struct {
	Text   string
	Page   int
	Source string
}

// Build embeds every passage and returns the resulting index. No passages
// yields an empty index.
func Build(ctx context.Context, e *Embedder, passages []Passage) (*vectorindex.Index, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	vecs, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	idx := vectorindex.New(0)
	for i, p := range passages {
		if err := idx.Add(vectorindex.Entry{
			Text:   p.Text,
			Page:   p.Page,
			Source: p.Source,
			Vector: vecs[i],
		}); err != nil {
			return nil, fmt.Errorf("indexing passage %d: %w", i, err)
		}
	}
	return idx, nil
}

// QueryEmbedder embeds a question. Implemented by Embedder.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds questions and searches an index with them.
type Retriever struct {
	embedder QueryEmbedder
}

// NewRetriever creates a Retriever backed by the given embedder.
func NewRetriever(e QueryEmbedder) *Retriever {
	return &Retriever{embedder: e}
}

// Retrieve embeds the query and returns the top-k most similar entries of idx.
func (r *Retriever) Retrieve(ctx context.Context, idx *vectorindex.Index, query string, k int) ([]vectorindex.Hit, error) {
	if idx == nil {
		return nil, fmt.Errorf("retrieving %q: nil index", query)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return idx.Search(vec, k)
}
