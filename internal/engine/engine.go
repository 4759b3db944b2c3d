// Package engine abstracts the model backends used for embeddings and
// answer generation.
package engine

import "context"

// Engine abstracts a local inference backend. Consumers such as the
// embedder and the local generator use this interface instead of depending
// on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in order.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
