// Package ingest stores uploads and builds their similarity indexes in the
// background.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/extract"
	"github.com/kalambet/sangam/internal/retrieval"
	"github.com/kalambet/sangam/internal/storage"
	"github.com/kalambet/sangam/internal/textsplit"
	"github.com/kalambet/sangam/internal/vectorindex"
)

// JobBuildIndex is the job type that builds the index of one item.
const JobBuildIndex = "build_index"

// StatusQueued is reported for an accepted upload.
const StatusQueued = "queued"

// PreviewRows is the number of table rows echoed back on upload.
const PreviewRows = 10

const indexContentType = "application/x-sangam-index"

// JobQueue enqueues background jobs. Implemented by storage.Store.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
}

// Invalidator drops every cached copy of an item's index.
// Implemented by conversation.Service.
type Invalidator interface {
	Invalidate(ctx context.Context, owner, name string) error
}

// Upload is one piece of content submitted by an owner.
type Upload struct {
	Owner       string
	Kind        artifact.Kind
	Name        string
	ContentType string
	Data        []byte
	// Reference is the video link of a transcript upload; the name is
	// derived from it.
	Reference string
}

// TablePreview summarizes a tabular upload.
type TablePreview struct {
	Shape   [2]int              `json:"shape"`
	Columns []string            `json:"columns"`
	Preview []map[string]string `json:"preview"`
}

// Receipt is returned for an accepted upload.
type Receipt struct {
	Name   string        `json:"name"`
	Kind   artifact.Kind `json:"kind"`
	Status string        `json:"status"`
	JobID  string        `json:"job_id"`
	Table  *TablePreview `json:"table,omitempty"`
}

type buildPayload struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// Ingester accepts uploads and turns stored sources into index artifacts.
type Ingester struct {
	artifacts   *artifact.Set
	jobs        JobQueue
	splitter    *textsplit.Splitter
	embedder    *retrieval.Embedder
	invalidator Invalidator
	logger      *slog.Logger
}

// New creates an Ingester.
func New(artifacts *artifact.Set, jobs JobQueue, splitter *textsplit.Splitter, embedder *retrieval.Embedder, inv Invalidator) *Ingester {
	return &Ingester{
		artifacts:   artifacts,
		jobs:        jobs,
		splitter:    splitter,
		embedder:    embedder,
		invalidator: inv,
		logger:      slog.Default(),
	}
}

// Submit validates u, stores its source bytes and queues the index build.
func (in *Ingester) Submit(ctx context.Context, u Upload) (Receipt, error) {
	var (
		source  []byte
		ct      = u.ContentType
		table   *extract.Table
		preview *TablePreview
	)

	switch u.Kind {
	case artifact.KindDocument:
		if len(u.Data) == 0 {
			return Receipt{}, fmt.Errorf("%w: %s is empty", extract.ErrInvalidInput, u.Name)
		}
		if _, err := extract.DetectFormat(u.Name, u.ContentType); err != nil {
			return Receipt{}, err
		}
		source = u.Data

	case artifact.KindTranscript:
		name, pages, err := extract.Transcript(u.Reference, string(u.Data))
		if err != nil {
			return Receipt{}, err
		}
		u.Name = name
		source = []byte(pages[0].Text)
		ct = "text/plain; charset=utf-8"

	case artifact.KindTable:
		t, err := extract.ParseCSV(u.Data)
		if err != nil {
			return Receipt{}, err
		}
		table = t
		source = u.Data
		if ct == "" {
			ct = "text/csv"
		}
		preview = &TablePreview{Shape: t.Shape(), Columns: t.Columns, Preview: t.Preview(PreviewRows)}

	default:
		return Receipt{}, fmt.Errorf("%w: unknown content kind %q", extract.ErrInvalidInput, u.Kind)
	}

	key := artifact.Key{Owner: u.Owner, Name: u.Name}
	if err := key.Validate(); err != nil {
		return Receipt{}, err
	}

	if err := in.retireIndex(ctx, key); err != nil {
		return Receipt{}, err
	}
	if err := replace(ctx, in.artifacts.Source, key, u.Kind, source, ct); err != nil {
		return Receipt{}, fmt.Errorf("storing source: %w", err)
	}
	if table != nil {
		blob, err := table.Encode()
		if err != nil {
			return Receipt{}, fmt.Errorf("encoding table: %w", err)
		}
		if err := replace(ctx, in.artifacts.Table, key, u.Kind, blob, "application/json"); err != nil {
			return Receipt{}, fmt.Errorf("storing table: %w", err)
		}
	}

	payload, err := json.Marshal(buildPayload{Owner: key.Owner, Name: key.Name})
	if err != nil {
		return Receipt{}, err
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobBuildIndex,
		PayloadJSON: string(payload),
	}
	if err := in.jobs.EnqueueJob(job); err != nil {
		return Receipt{}, fmt.Errorf("enqueueing index build: %w", err)
	}

	in.logger.Info("upload accepted", "owner", key.Owner, "name", key.Name, "kind", u.Kind, "bytes", len(source), "job_id", job.ID)
	return Receipt{Name: key.Name, Kind: u.Kind, Status: StatusQueued, JobID: job.ID, Table: preview}, nil
}

// retireIndex drops the index of a re-uploaded item so questions asked
// before the rebuild finishes report it as indexing instead of answering
// from the replaced content.
func (in *Ingester) retireIndex(ctx context.Context, key artifact.Key) error {
	_, err := in.artifacts.Index.Stat(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil
	}
	if err != nil && !errors.Is(err, artifact.ErrCorrupt) {
		return fmt.Errorf("checking index of %s: %w", key, err)
	}
	if err := in.artifacts.Index.Delete(ctx, key); err != nil {
		return fmt.Errorf("dropping index of %s: %w", key, err)
	}
	if err := in.invalidator.Invalidate(ctx, key.Owner, key.Name); err != nil {
		in.logger.Warn("index invalidation not published", "key", key.String(), "error", err)
	}
	return nil
}

// replace deletes then writes so a smaller payload leaves no stale shards.
func replace(ctx context.Context, repo *artifact.Repository, key artifact.Key, kind artifact.Kind, b []byte, ct string) error {
	if err := repo.Delete(ctx, key); err != nil {
		return err
	}
	_, err := repo.Put(ctx, key, kind, b, artifact.WithContentType(ct))
	return err
}

// Build extracts, splits and embeds the stored source of (owner, name) and
// writes the resulting index artifact. A source deleted in the meantime is
// not an error.
func (in *Ingester) Build(ctx context.Context, owner, name string) error {
	start := time.Now()
	key := artifact.Key{Owner: owner, Name: name}

	src, h, err := in.artifacts.Source.Get(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		in.logger.Warn("source gone before index build", "key", key.String())
		return nil
	}
	if err != nil {
		return err
	}

	pages, err := in.pages(ctx, key, h, src)
	if err != nil {
		return err
	}

	var passages []retrieval.Passage
	for _, p := range pages {
		for _, chunk := range in.splitter.Split(p.Text) {
			passages = append(passages, retrieval.Passage{Text: chunk, Page: p.Number, Source: name})
		}
	}
	if len(passages) == 0 {
		return fmt.Errorf("%w: no text could be extracted from %s", extract.ErrInvalidInput, name)
	}

	idx, err := retrieval.Build(ctx, in.embedder, passages)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", key, err)
	}
	blob, err := vectorindex.Encode(idx)
	if err != nil {
		return err
	}
	if err := replace(ctx, in.artifacts.Index, key, h.ContentKind, blob, indexContentType); err != nil {
		return fmt.Errorf("storing index: %w", err)
	}

	if err := in.invalidator.Invalidate(ctx, owner, name); err != nil {
		// The local cache entry is already gone; only the broadcast failed.
		in.logger.Warn("index invalidation not published", "key", key.String(), "error", err)
	}

	in.logger.Info("index built",
		"key", key.String(),
		"pages", len(pages),
		"passages", len(passages),
		"bytes", len(blob),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (in *Ingester) pages(ctx context.Context, key artifact.Key, h artifact.Header, src []byte) ([]extract.Page, error) {
	switch h.ContentKind {
	case artifact.KindDocument:
		return extract.Document(key.Name, h.ContentType, src)
	case artifact.KindTranscript:
		return []extract.Page{{Text: strings.TrimSpace(string(src))}}, nil
	case artifact.KindTable:
		b, _, err := in.artifacts.Table.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("loading table: %w", err)
		}
		t, err := extract.DecodeTable(b)
		if err != nil {
			return nil, err
		}
		return t.Pages(), nil
	}
	return nil, fmt.Errorf("%w: unknown content kind %q", extract.ErrInvalidInput, h.ContentKind)
}
