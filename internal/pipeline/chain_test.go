package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/memory"
	"github.com/kalambet/sangam/internal/vectorindex"
)

type mockRetriever struct {
	hits    []vectorindex.Hit
	err     error
	queries []string
	k       int
}

func (m *mockRetriever) Retrieve(ctx context.Context, idx *vectorindex.Index, query string, k int) ([]vectorindex.Hit, error) {
	m.queries = append(m.queries, query)
	m.k = k
	if m.err != nil {
		return nil, m.err
	}
	return m.hits, nil
}

type mockGenerator struct {
	mu     sync.Mutex
	calls  [][]engine.Message
	chatFn func(ctx context.Context, msgs []engine.Message) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, msgs []engine.Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	m.mu.Unlock()
	if m.chatFn != nil {
		return m.chatFn(ctx, msgs)
	}
	return "answer", nil
}

func hit(text string, page int, score float32) vectorindex.Hit {
	return vectorindex.Hit{Entry: vectorindex.Entry{Text: text, Page: page, Source: "doc.pdf"}, Score: score}
}

var window = []memory.Turn{
	{Role: memory.RoleUser, Content: "who wrote it?"},
	{Role: memory.RoleAssistant, Content: "Ada."},
}

func TestRun_EmptyWindowSkipsCondense(t *testing.T) {
	r := &mockRetriever{hits: []vectorindex.Hit{hit("alpha", 1, 0.9)}}
	g := &mockGenerator{}
	c := New(r, g, 0)

	res, err := c.Run(context.Background(), vectorindex.New(0), nil, "what is alpha?")
	require.NoError(t, err)

	require.Len(t, g.calls, 1, "only the answer call should reach the model")
	assert.Equal(t, []string{"what is alpha?"}, r.queries)
	assert.Equal(t, DefaultTopK, r.k)
	assert.Equal(t, "what is alpha?", res.StandaloneQuestion)
	assert.Equal(t, "answer", res.Answer)
}

func TestRun_CondensesWithWindow(t *testing.T) {
	r := &mockRetriever{}
	g := &mockGenerator{chatFn: func(_ context.Context, msgs []engine.Message) (string, error) {
		if strings.Contains(msgs[0].Content, "Standalone Question:") {
			return "  When did Ada write the report?\n", nil
		}
		return "In 1843.", nil
	}}
	c := New(r, g, 5)

	res, err := c.Run(context.Background(), vectorindex.New(0), window, "when?")
	require.NoError(t, err)

	require.Len(t, g.calls, 2)
	assert.Contains(t, g.calls[0][0].Content, "Human: who wrote it?\nAssistant: Ada.")
	assert.Equal(t, "When did Ada write the report?", res.StandaloneQuestion)
	assert.Equal(t, []string{"When did Ada write the report?"}, r.queries)
	assert.Equal(t, 5, r.k)
	assert.Equal(t, "When did Ada write the report?", g.calls[1][1].Content)
}

func TestRun_BlankCondenseFallsBack(t *testing.T) {
	g := &mockGenerator{chatFn: func(_ context.Context, msgs []engine.Message) (string, error) {
		if len(msgs) == 1 {
			return "   ", nil
		}
		return "ok", nil
	}}
	c := New(&mockRetriever{}, g, 0)

	res, err := c.Run(context.Background(), vectorindex.New(0), window, "when?")
	require.NoError(t, err)
	assert.Equal(t, "when?", res.StandaloneQuestion)
}

func TestRun_ContextJoinAndSources(t *testing.T) {
	long := strings.Repeat("é", 250)
	r := &mockRetriever{hits: []vectorindex.Hit{
		hit("first chunk", 2, 0.8),
		hit(long, 7, 0.5),
	}}
	g := &mockGenerator{}
	c := New(r, g, 0)

	res, err := c.Run(context.Background(), vectorindex.New(0), nil, "q")
	require.NoError(t, err)

	system := g.calls[0][0].Content
	assert.True(t, strings.HasSuffix(system, "Context:\nfirst chunk\n\n"+long), "system prompt: %q", system)

	require.Len(t, res.SourceChunks, 2)
	assert.Equal(t, SourceChunk{Text: "first chunk", Page: 2, Source: "doc.pdf", Score: float64(float32(0.8))}, res.SourceChunks[0])
	assert.Equal(t, SourcePreviewRunes, len([]rune(res.SourceChunks[1].Text)))
	assert.Equal(t, 7, res.SourceChunks[1].Page)
}

func TestRun_ZeroChunksStillAnswers(t *testing.T) {
	g := &mockGenerator{}
	c := New(&mockRetriever{}, g, 0)

	res, err := c.Run(context.Background(), vectorindex.New(0), nil, "anything?")
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Answer)
	assert.Empty(t, res.SourceChunks)
	assert.True(t, strings.HasSuffix(g.calls[0][0].Content, "Context:\n"))
}

func TestRun_UpstreamFailures(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("condense", func(t *testing.T) {
		g := &mockGenerator{chatFn: func(context.Context, []engine.Message) (string, error) { return "", boom }}
		r := &mockRetriever{}
		_, err := New(r, g, 0).Run(context.Background(), vectorindex.New(0), window, "q")
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Empty(t, r.queries, "retrieval must not run after a failed condense")
	})

	t.Run("retrieve", func(t *testing.T) {
		g := &mockGenerator{}
		_, err := New(&mockRetriever{err: boom}, g, 0).Run(context.Background(), vectorindex.New(0), nil, "q")
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Empty(t, g.calls)
	})

	t.Run("answer", func(t *testing.T) {
		g := &mockGenerator{chatFn: func(context.Context, []engine.Message) (string, error) { return "", boom }}
		res, err := New(&mockRetriever{hits: []vectorindex.Hit{hit("x", 1, 1)}}, g, 0).Run(context.Background(), vectorindex.New(0), nil, "q")
		assert.ErrorIs(t, err, ErrUpstream)
		assert.Equal(t, Result{}, res)
	})
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := &mockGenerator{chatFn: func(ctx context.Context, _ []engine.Message) (string, error) {
		cancel()
		return "", ctx.Err()
	}}

	_, err := New(&mockRetriever{}, g, 0).Run(ctx, vectorindex.New(0), nil, "q")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUpstream)
}
