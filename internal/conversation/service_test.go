package conversation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/extract"
	"github.com/kalambet/sangam/internal/indexcache"
	"github.com/kalambet/sangam/internal/pipeline"
	"github.com/kalambet/sangam/internal/retrieval"
	"github.com/kalambet/sangam/internal/storage"
	"github.com/kalambet/sangam/internal/vectorindex"
)

type fixedEmbedder struct {
	calls atomic.Int32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	return []float32{1, 0}, nil
}

type mockGenerator struct {
	mu     sync.Mutex
	calls  [][]engine.Message
	chatFn func(msgs []engine.Message) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, msgs []engine.Message) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	m.mu.Unlock()
	if m.chatFn != nil {
		return m.chatFn(msgs)
	}
	return "generated", nil
}

type recordingPublisher struct {
	keys []indexcache.Key
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, key indexcache.Key) error {
	p.keys = append(p.keys, key)
	return p.err
}

type fixture struct {
	svc   *Service
	store *storage.Store
	set   *artifact.Set
	cache *indexcache.Cache[*vectorindex.Index]
	gen   *mockGenerator
	emb   *fixedEmbedder
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store: store,
		set:   artifact.NewSet(store, 64),
		cache: indexcache.New[*vectorindex.Index](0),
		gen:   &mockGenerator{},
		emb:   &fixedEmbedder{},
		pub:   &recordingPublisher{},
	}
	chain := pipeline.New(retrieval.NewRetriever(f.emb), f.gen, 2)
	f.svc = NewService(f.set, store, f.cache, chain, f.gen, Config{WindowPairs: 1, Publisher: f.pub})
	return f
}

func (f *fixture) putIndex(t *testing.T, owner, name string, texts ...string) {
	t.Helper()
	idx := vectorindex.New(2)
	for i, text := range texts {
		require.NoError(t, idx.Add(vectorindex.Entry{
			Text:   text,
			Page:   i + 1,
			Source: name,
			Vector: []float32{1, float32(i)},
		}))
	}
	b, err := vectorindex.Encode(idx)
	require.NoError(t, err)
	_, err = f.set.Index.Put(context.Background(), artifact.Key{Owner: owner, Name: name}, artifact.KindDocument, b)
	require.NoError(t, err)
}

func (f *fixture) putSource(t *testing.T, owner, name string, kind artifact.Kind, body string) {
	t.Helper()
	_, err := f.set.Source.Put(context.Background(), artifact.Key{Owner: owner, Name: name}, kind, []byte(body))
	require.NoError(t, err)
}

func TestAsk_AnswersAndRecordsTurns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSource(t, "u1", "doc.pdf", artifact.KindDocument, "raw")
	f.putIndex(t, "u1", "doc.pdf", "alpha", "beta", "gamma")

	res, err := f.svc.Ask(ctx, "u1", "doc.pdf", "  what is alpha?  ")
	require.NoError(t, err)
	assert.Equal(t, "generated", res.Answer)
	assert.Equal(t, "what is alpha?", res.StandaloneQuestion)
	require.Len(t, res.SourceChunks, 2)
	assert.Equal(t, "alpha", res.SourceChunks[0].Text)

	turns, err := f.svc.History(ctx, "u1", "doc.pdf")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "what is alpha?", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.Equal(t, "generated", turns[1].Content)
	assert.Equal(t, 1, f.cache.Len())
}

func TestAsk_SecondQuestionIsCondensed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putIndex(t, "u1", "doc.pdf", "alpha")

	_, err := f.svc.Ask(ctx, "u1", "doc.pdf", "first?")
	require.NoError(t, err)
	require.Len(t, f.gen.calls, 1)

	_, err = f.svc.Ask(ctx, "u1", "doc.pdf", "and then?")
	require.NoError(t, err)
	require.Len(t, f.gen.calls, 3, "second question needs condense and answer calls")
	assert.Contains(t, f.gen.calls[1][0].Content, "Human: first?\nAssistant: generated")
}

func TestAsk_NotFoundAndIndexing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, "u1", "missing", "q")
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	f.putSource(t, "u1", "queued.pdf", artifact.KindDocument, "raw")
	_, err = f.svc.Ask(ctx, "u1", "queued.pdf", "q")
	assert.ErrorIs(t, err, ErrIndexing)

	assert.Equal(t, 0, f.cache.Len(), "absent loads must not be cached")
	assert.Empty(t, f.gen.calls)
}

func TestAsk_CorruptIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.set.Index.Put(context.Background(), artifact.Key{Owner: "u1", Name: "bad"}, artifact.KindDocument, []byte("not an index"))
	require.NoError(t, err)

	_, err = f.svc.Ask(context.Background(), "u1", "bad", "q")
	assert.ErrorIs(t, err, artifact.ErrCorrupt)
	assert.Equal(t, 0, f.cache.Len())
}

func TestAsk_UpstreamFailureRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putIndex(t, "u1", "doc.pdf", "alpha")
	f.gen.chatFn = func([]engine.Message) (string, error) { return "", errors.New("503") }

	_, err := f.svc.Ask(ctx, "u1", "doc.pdf", "q")
	assert.ErrorIs(t, err, pipeline.ErrUpstream)

	turns, err := f.svc.History(ctx, "u1", "doc.pdf")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAsk_InvalidInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), "u1", "doc.pdf", "   ")
	assert.ErrorIs(t, err, extract.ErrInvalidInput)

	_, err = f.svc.Ask(context.Background(), "", "doc.pdf", "q")
	assert.ErrorIs(t, err, artifact.ErrInvalidKey)
}

func TestDelete_RemovesEverythingAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSource(t, "u1", "doc.pdf", artifact.KindDocument, "raw")
	f.putIndex(t, "u1", "doc.pdf", "alpha")
	_, err := f.svc.Ask(ctx, "u1", "doc.pdf", "q")
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len())

	require.NoError(t, f.svc.Delete(ctx, "u1", "doc.pdf"))

	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, []indexcache.Key{{Owner: "u1", Name: "doc.pdf"}}, f.pub.keys)
	_, _, err = f.svc.Source(ctx, "u1", "doc.pdf")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
	turns, err := f.svc.History(ctx, "u1", "doc.pdf")
	require.NoError(t, err)
	assert.Empty(t, turns)

	_, err = f.svc.Ask(ctx, "u1", "doc.pdf", "q")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestDelete_PublishFailureIsReported(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("redis down")
	err := f.svc.Delete(context.Background(), "u1", "doc.pdf")
	assert.ErrorContains(t, err, "redis down")
}

func TestDropCachedDoesNotPublish(t *testing.T) {
	f := newFixture(t)
	f.putIndex(t, "u1", "doc.pdf", "alpha")
	_, err := f.svc.Ask(context.Background(), "u1", "doc.pdf", "q")
	require.NoError(t, err)

	f.svc.DropCached(indexcache.Key{Owner: "u1", Name: "doc.pdf"})
	assert.Equal(t, 0, f.cache.Len())
	assert.Empty(t, f.pub.keys)
}

func TestListAndStat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSource(t, "u1", "b.csv", artifact.KindTable, "a,b\n1,2\n")
	f.putSource(t, "u1", "a.pdf", artifact.KindDocument, "raw")
	f.putIndex(t, "u1", "a.pdf", "alpha")
	f.putSource(t, "u2", "other", artifact.KindDocument, "raw")

	items, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.pdf", items[0].Name)
	assert.True(t, items[0].Ready)
	assert.Equal(t, "b.csv", items[1].Name)
	assert.Equal(t, artifact.KindTable, items[1].Kind)
	assert.False(t, items[1].Ready)

	item, err := f.svc.Stat(ctx, "u1", "a.pdf")
	require.NoError(t, err)
	assert.True(t, item.Ready)
	assert.Equal(t, 3, item.Size)

	_, err = f.svc.Stat(ctx, "u1", "nope")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tbl, err := extract.ParseCSV([]byte("name,qty\napple,3\n"))
	require.NoError(t, err)
	b, err := tbl.Encode()
	require.NoError(t, err)
	_, err = f.set.Table.Put(ctx, artifact.Key{Owner: "u1", Name: "fruit.csv"}, artifact.KindTable, b)
	require.NoError(t, err)

	got, err := f.svc.Table(ctx, "u1", "fruit.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "qty"}, got.Columns)
	assert.Equal(t, [][]string{{"apple", "3"}}, got.Rows)
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putSource(t, "u1", "youtube_dQw4w9WgXcQ", artifact.KindTranscript, "we never give up")
	f.putSource(t, "u1", "doc.pdf", artifact.KindDocument, "raw")
	f.gen.chatFn = func(msgs []engine.Message) (string, error) { return " summary \n", nil }

	out, err := f.svc.Summarize(ctx, "u1", "youtube_dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "summary", out)
	assert.Contains(t, f.gen.calls[0][0].Content, "Transcript:\nwe never give up")

	_, err = f.svc.Summarize(ctx, "u1", "doc.pdf")
	assert.ErrorIs(t, err, extract.ErrInvalidInput)

	f.gen.chatFn = func([]engine.Message) (string, error) { return "", errors.New("timeout") }
	_, err = f.svc.Summarize(ctx, "u1", "youtube_dQw4w9WgXcQ")
	assert.ErrorIs(t, err, pipeline.ErrUpstream)
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putIndex(t, "u1", "doc.pdf", "alpha")
	_, err := f.svc.Ask(ctx, "u1", "doc.pdf", "q")
	require.NoError(t, err)

	n, err := f.svc.ClearHistory(ctx, "u1", "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
