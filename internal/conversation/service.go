// Package conversation answers questions about uploaded content and keeps
// the per-item conversation transcript.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/composer"
	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/extract"
	"github.com/kalambet/sangam/internal/indexcache"
	"github.com/kalambet/sangam/internal/memory"
	"github.com/kalambet/sangam/internal/pipeline"
	"github.com/kalambet/sangam/internal/storage"
	"github.com/kalambet/sangam/internal/vectorindex"
)

// ErrIndexing is returned when the source of an item is stored but its
// index has not been built yet.
var ErrIndexing = errors.New("content is still being indexed")

// Transcript persists conversation turns. Implemented by storage.Store.
type Transcript interface {
	AppendTurn(ctx context.Context, ownerID, name, role, content string) (storage.Turn, error)
	ListTurns(ctx context.Context, ownerID, name string) ([]storage.Turn, error)
	ClearTurns(ctx context.Context, ownerID, name string) (int, error)
}

// Publisher tells other instances that a cached index is stale.
// Implemented by invalidation.Bus.
type Publisher interface {
	Publish(ctx context.Context, key indexcache.Key) error
}

// Item describes one uploaded content item.
type Item struct {
	Name        string        `json:"name"`
	Kind        artifact.Kind `json:"kind"`
	Size        int           `json:"size"`
	ContentType string        `json:"content_type,omitempty"`
	Ready       bool          `json:"ready"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Service wires the artifact store, the index cache, the transcript and the
// retrieval pipeline together.
type Service struct {
	artifacts   *artifact.Set
	transcript  Transcript
	cache       *indexcache.Cache[*vectorindex.Index]
	chain       *pipeline.Chain
	generator   engine.Generator
	publisher   Publisher
	windowPairs int
	logger      *slog.Logger
}

// Config holds the optional settings of a Service.
type Config struct {
	// WindowPairs is the number of exchanges kept in the condense window.
	WindowPairs int
	// Publisher, when set, receives every invalidation.
	Publisher Publisher
}

// NewService creates a Service.
func NewService(
	artifacts *artifact.Set,
	transcript Transcript,
	cache *indexcache.Cache[*vectorindex.Index],
	chain *pipeline.Chain,
	generator engine.Generator,
	cfg Config,
) *Service {
	if cfg.WindowPairs <= 0 {
		cfg.WindowPairs = memory.DefaultPairs
	}
	return &Service{
		artifacts:   artifacts,
		transcript:  transcript,
		cache:       cache,
		chain:       chain,
		generator:   generator,
		publisher:   cfg.Publisher,
		windowPairs: cfg.WindowPairs,
		logger:      slog.Default(),
	}
}

// Ask answers question about the item (owner, name) and records the exchange.
func (s *Service) Ask(ctx context.Context, owner, name, question string) (pipeline.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return pipeline.Result{}, fmt.Errorf("%w: question is empty", extract.ErrInvalidInput)
	}
	key := artifact.Key{Owner: owner, Name: name}
	if err := key.Validate(); err != nil {
		return pipeline.Result{}, err
	}

	idx, err := s.index(ctx, key)
	if err != nil {
		return pipeline.Result{}, err
	}

	turns, err := s.transcript.ListTurns(ctx, owner, name)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("loading transcript: %w", err)
	}
	window := memory.BuildWindow(toMemory(turns), s.windowPairs)

	res, err := s.chain.Run(ctx, idx, window, question)
	if err != nil {
		return pipeline.Result{}, err
	}

	if _, err := s.transcript.AppendTurn(ctx, owner, name, string(memory.RoleUser), question); err != nil {
		return pipeline.Result{}, fmt.Errorf("recording question: %w", err)
	}
	if _, err := s.transcript.AppendTurn(ctx, owner, name, string(memory.RoleAssistant), res.Answer); err != nil {
		return pipeline.Result{}, fmt.Errorf("recording answer: %w", err)
	}
	return res, nil
}

// index returns the similarity index of key through the cache.
func (s *Service) index(ctx context.Context, key artifact.Key) (*vectorindex.Index, error) {
	ck := indexcache.Key{Owner: key.Owner, Name: key.Name}
	idx, found, err := s.cache.GetOrLoad(ctx, ck, func(ctx context.Context) (*vectorindex.Index, bool, error) {
		b, _, err := s.artifacts.Index.Get(ctx, key)
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		idx, err := vectorindex.Decode(b)
		if err != nil {
			s.logger.Error("undecodable index artifact", "key", key.String(), "error", err)
			return nil, false, fmt.Errorf("%w: %s: %v", artifact.ErrCorrupt, key, err)
		}
		s.logger.Debug("index loaded", "key", key.String(), "entries", idx.Len())
		return idx, true, nil
	})
	if err != nil {
		return nil, err
	}
	if found {
		return idx, nil
	}

	if _, err := s.artifacts.Source.Stat(ctx, key); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrIndexing, key)
	}
	return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
}

// History returns the full transcript of (owner, name).
func (s *Service) History(ctx context.Context, owner, name string) ([]storage.Turn, error) {
	if err := (artifact.Key{Owner: owner, Name: name}).Validate(); err != nil {
		return nil, err
	}
	return s.transcript.ListTurns(ctx, owner, name)
}

// ClearHistory removes the transcript of (owner, name) and returns the
// number of removed turns.
func (s *Service) ClearHistory(ctx context.Context, owner, name string) (int, error) {
	if err := (artifact.Key{Owner: owner, Name: name}).Validate(); err != nil {
		return 0, err
	}
	return s.transcript.ClearTurns(ctx, owner, name)
}

// List returns every item uploaded by owner. An item is ready once its
// index artifact is complete.
func (s *Service) List(ctx context.Context, owner string) ([]Item, error) {
	sources, err := s.artifacts.Source.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	indexes, err := s.artifacts.Index.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	ready := make(map[string]bool, len(indexes))
	for _, h := range indexes {
		ready[h.Name] = h.Status == artifact.StatusComplete
	}

	items := make([]Item, 0, len(sources))
	for _, h := range sources {
		if h.Status != artifact.StatusComplete {
			continue
		}
		items = append(items, Item{
			Name:        h.Name,
			Kind:        h.ContentKind,
			Size:        h.TotalSize,
			ContentType: h.ContentType,
			Ready:       ready[h.Name],
			CreatedAt:   h.CreatedAt,
		})
	}
	return items, nil
}

// Stat describes one item.
func (s *Service) Stat(ctx context.Context, owner, name string) (Item, error) {
	key := artifact.Key{Owner: owner, Name: name}
	h, err := s.artifacts.Source.Stat(ctx, key)
	if err != nil {
		return Item{}, err
	}
	if h.Status != artifact.StatusComplete {
		return Item{}, fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	ih, err := s.artifacts.Index.Stat(ctx, key)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return Item{}, err
	}
	return Item{
		Name:        h.Name,
		Kind:        h.ContentKind,
		Size:        h.TotalSize,
		ContentType: h.ContentType,
		Ready:       err == nil && ih.Status == artifact.StatusComplete,
		CreatedAt:   h.CreatedAt,
	}, nil
}

// Source returns the raw uploaded bytes of (owner, name).
func (s *Service) Source(ctx context.Context, owner, name string) ([]byte, artifact.Header, error) {
	return s.artifacts.Source.Get(ctx, artifact.Key{Owner: owner, Name: name})
}

// Table returns the structured table of a tabular item.
func (s *Service) Table(ctx context.Context, owner, name string) (*extract.Table, error) {
	b, _, err := s.artifacts.Table.Get(ctx, artifact.Key{Owner: owner, Name: name})
	if err != nil {
		return nil, err
	}
	return extract.DecodeTable(b)
}

// Delete removes every artifact and the transcript of (owner, name) and
// drops its cached index here and on other instances.
func (s *Service) Delete(ctx context.Context, owner, name string) error {
	key := artifact.Key{Owner: owner, Name: name}
	if err := key.Validate(); err != nil {
		return err
	}

	var errs []error
	if err := s.artifacts.DeleteAll(ctx, key); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.transcript.ClearTurns(ctx, owner, name); err != nil {
		errs = append(errs, err)
	}
	if err := s.Invalidate(ctx, owner, name); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.logger.Info("content deleted", "owner", owner, "name", name)
	return nil
}

// Invalidate drops the cached index of (owner, name) and publishes the
// invalidation when a publisher is configured.
func (s *Service) Invalidate(ctx context.Context, owner, name string) error {
	key := indexcache.Key{Owner: owner, Name: name}
	s.cache.Invalidate(key)
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, key); err != nil {
		return fmt.Errorf("publishing invalidation of %s: %w", key, err)
	}
	return nil
}

// DropCached drops the cached index of key without publishing. Used for
// invalidations received from other instances.
func (s *Service) DropCached(key indexcache.Key) {
	s.cache.Invalidate(key)
}

// Summarize produces a structured summary of a transcript item.
func (s *Service) Summarize(ctx context.Context, owner, name string) (string, error) {
	b, h, err := s.Source(ctx, owner, name)
	if err != nil {
		return "", err
	}
	if h.ContentKind != artifact.KindTranscript {
		return "", fmt.Errorf("%w: %s is a %s, summaries are for transcripts", extract.ErrInvalidInput, name, h.ContentKind)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("%w: transcript %s is empty", extract.ErrInvalidInput, name)
	}

	out, err := s.generator.Generate(ctx, composer.SummaryMessages(text))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: summary: %v", pipeline.ErrUpstream, err)
	}
	return strings.TrimSpace(out), nil
}

func toMemory(turns []storage.Turn) []memory.Turn {
	out := make([]memory.Turn, len(turns))
	for i, t := range turns {
		out[i] = memory.Turn{Role: memory.Role(t.Role), Content: t.Content}
	}
	return out
}
