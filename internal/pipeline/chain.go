// Package pipeline answers a question about one content item in two stages:
// condense the question against the conversation window, then retrieve
// context from the similarity index and generate a grounded answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/sangam/internal/composer"
	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/memory"
	"github.com/kalambet/sangam/internal/vectorindex"
)

// ErrUpstream is returned when the embedding or generation backend fails.
var ErrUpstream = errors.New("upstream model failure")

const (
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 3
	// SourcePreviewRunes caps the text returned with each source chunk.
	SourcePreviewRunes = 200
)

// Retriever returns the chunks of idx most similar to query.
// Implemented by retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, idx *vectorindex.Index, query string, k int) ([]vectorindex.Hit, error)
}

// SourceChunk is a retrieved chunk as shown to the user.
type SourceChunk struct {
	Text   string  `json:"text"`
	Page   int     `json:"page"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Result is the outcome of one question.
type Result struct {
	Answer             string        `json:"answer"`
	StandaloneQuestion string        `json:"standalone_question"`
	SourceChunks       []SourceChunk `json:"source_chunks"`
}

// Chain runs the condense, retrieve and answer stages.
type Chain struct {
	retriever Retriever
	generator engine.Generator
	topK      int
	logger    *slog.Logger
}

// New creates a Chain. topK <= 0 selects DefaultTopK.
func New(r Retriever, g engine.Generator, topK int) *Chain {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Chain{
		retriever: r,
		generator: g,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Run answers question against idx. window is the recent conversation; an
// empty window skips the condense model call.
func (c *Chain) Run(ctx context.Context, idx *vectorindex.Index, window []memory.Turn, question string) (Result, error) {
	start := time.Now()

	standalone, err := c.Condense(ctx, window, question)
	if err != nil {
		return Result{}, err
	}

	hits, err := c.retriever.Retrieve(ctx, idx, standalone, c.topK)
	if err != nil {
		return Result{}, c.upstream(ctx, "retrieve", err)
	}

	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	msgs := composer.AnswerMessages(strings.Join(texts, "\n\n"), standalone)

	answer, err := c.generator.Generate(ctx, msgs)
	if err != nil {
		return Result{}, c.upstream(ctx, "answer", err)
	}

	c.logger.Debug("question answered",
		"chunks", len(hits),
		"prompt_tokens", composer.EstimateMessageTokens(msgs),
		"condensed", len(window) > 0,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Result{
		Answer:             strings.TrimSpace(answer),
		StandaloneQuestion: standalone,
		SourceChunks:       sourceChunks(hits),
	}, nil
}

// Condense rewrites question as a standalone question. With no window the
// question is returned verbatim. A blank rewrite falls back to the question.
func (c *Chain) Condense(ctx context.Context, window []memory.Turn, question string) (string, error) {
	if len(window) == 0 {
		return question, nil
	}
	out, err := c.generator.Generate(ctx, composer.CondenseMessages(window, question))
	if err != nil {
		return "", c.upstream(ctx, "condense", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		c.logger.Warn("condense returned nothing, using the original question")
		return question, nil
	}
	return out, nil
}

func (c *Chain) upstream(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Warn("pipeline stage failed", "stage", stage, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrUpstream, stage, err)
}

func sourceChunks(hits []vectorindex.Hit) []SourceChunk {
	out := make([]SourceChunk, len(hits))
	for i, h := range hits {
		out[i] = SourceChunk{
			Text:   truncateRunes(h.Text, SourcePreviewRunes),
			Page:   h.Page,
			Source: h.Source,
			Score:  float64(h.Score),
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
