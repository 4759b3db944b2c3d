//go:build integration

package retrieval

import (
	"context"
	"testing"

	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/vectorindex"
)

// Requires a local Ollama with nomic-embed-text pulled.
func TestIntegration_BuildEncodeRetrieve(t *testing.T) {
	eng := engine.NewOllamaEngine("http://localhost:11434")
	if !eng.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	ctx := context.Background()
	e := NewEmbedder(eng, "nomic-embed-text")

	idx, err := Build(ctx, e, []Passage{
		{Text: "The Eiffel Tower is in Paris.", Page: 1},
		{Text: "Go channels synchronize goroutines.", Page: 2},
		{Text: "Sourdough needs a starter culture.", Page: 3},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	b, err := vectorindex.Encode(idx)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := vectorindex.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	hits, err := NewRetriever(e).Retrieve(ctx, decoded, "How do goroutines communicate?", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 || hits[0].Page != 2 {
		t.Errorf("hits = %+v, want page 2", hits)
	}
}
