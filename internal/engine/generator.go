package engine

import (
	"context"

	"github.com/kalambet/sangam/internal/proxy"
)

// Generator produces an assistant reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// LocalGenerator generates with a chat model on a local Engine.
type LocalGenerator struct {
	engine Engine
	model  string
	opts   ChatOptions
}

// NewLocalGenerator creates a Generator over e.
func NewLocalGenerator(e Engine, model string, opts ChatOptions) *LocalGenerator {
	return &LocalGenerator{engine: e, model: model, opts: opts}
}

func (g *LocalGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	return g.engine.Chat(ctx, g.model, messages, g.opts)
}

// Completer is the OpenRouter client method the remote generator needs.
// Implemented by proxy.Client.
type Completer interface {
	Complete(ctx context.Context, req proxy.CompletionRequest) (string, error)
}

// RemoteGenerator generates through the OpenRouter chat completions API.
type RemoteGenerator struct {
	client Completer
	model  string
	opts   ChatOptions
}

// NewRemoteGenerator creates a Generator over an OpenRouter client.
func NewRemoteGenerator(c Completer, model string, opts ChatOptions) *RemoteGenerator {
	return &RemoteGenerator{client: c, model: model, opts: opts}
}

func (g *RemoteGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]proxy.Message, len(messages))
	for i, m := range messages {
		msgs[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}
	return g.client.Complete(ctx, proxy.CompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
}
