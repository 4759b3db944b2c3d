// Package artifact persists large binary objects as a header record plus
// size-bounded shard records in a document store.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/sangam/internal/shard"
	"github.com/kalambet/sangam/internal/storage"
)

// DocumentStore is the record-level store artifacts are written to.
// Implemented by storage.Store and storage.RedisStore.
type DocumentStore interface {
	GetDocument(ctx context.Context, path string) ([]byte, error)
	PutDocument(ctx context.Context, path string, data []byte) error
	DeleteDocument(ctx context.Context, path string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	ListDocuments(ctx context.Context, prefix string) ([]string, error)
}

// Repository reads and writes the artifacts of one namespace.
type Repository struct {
	store     DocumentStore
	namespace Namespace
	limit     int
	now       func() time.Time
	logger    *slog.Logger
}

// NewRepository creates a Repository. A non-positive limit selects shard.DefaultLimit.
func NewRepository(store DocumentStore, ns Namespace, limit int) *Repository {
	if limit <= 0 {
		limit = shard.DefaultLimit
	}
	return &Repository{
		store:     store,
		namespace: ns,
		limit:     limit,
		now:       time.Now,
		logger:    slog.Default().With("namespace", string(ns)),
	}
}

// Namespace returns the namespace this repository writes to.
func (r *Repository) Namespace() Namespace {
	return r.namespace
}

// PutOption customizes a Put call.
type PutOption func(*Header)

// WithContentType records the MIME type of the stored bytes.
func WithContentType(ct string) PutOption {
	return func(h *Header) { h.ContentType = ct }
}

// Put writes b under key: a pending header, then every shard, then the
// header again marked complete. Shards left over from a larger previous
// artifact are not pruned; delete first when shrinking.
func (r *Repository) Put(ctx context.Context, key Key, kind Kind, b []byte, opts ...PutOption) (Header, error) {
	if err := key.Validate(); err != nil {
		return Header{}, err
	}
	if !kind.Valid() {
		return Header{}, fmt.Errorf("%w: unknown content kind %q", ErrInvalidKey, kind)
	}

	shards, err := shard.Split(b, r.limit)
	if err != nil {
		return Header{}, err
	}

	sum := sha256.Sum256(b)
	h := Header{
		Name:        key.Name,
		ContentKind: kind,
		TotalSize:   len(b),
		ShardCount:  len(shards),
		ShardLimit:  r.limit,
		Checksum:    hex.EncodeToString(sum[:]),
		Status:      StatusPending,
		CreatedAt:   r.now().UTC(),
	}
	for _, opt := range opts {
		opt(&h)
	}

	if err := r.writeHeader(ctx, key, h); err != nil {
		return Header{}, err
	}
	for i, s := range shards {
		if err := r.store.PutDocument(ctx, shardPath(r.namespace, key, i), s); err != nil {
			return Header{}, fmt.Errorf("writing shard %d of %s: %w", i, key, err)
		}
	}

	h.Status = StatusComplete
	if err := r.writeHeader(ctx, key, h); err != nil {
		return Header{}, err
	}

	r.logger.Debug("artifact stored", "key", key.String(), "size", h.TotalSize, "shards", h.ShardCount)
	return h, nil
}

func (r *Repository) writeHeader(ctx context.Context, key Key, h Header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshalling header: %w", err)
	}
	if err := r.store.PutDocument(ctx, headerPath(r.namespace, key), data); err != nil {
		return fmt.Errorf("writing header of %s: %w", key, err)
	}
	return nil
}

// Stat returns the header of key regardless of its status.
func (r *Repository) Stat(ctx context.Context, key Key) (Header, error) {
	if err := key.Validate(); err != nil {
		return Header{}, err
	}
	data, err := r.store.GetDocument(ctx, headerPath(r.namespace, key))
	if errors.Is(err, storage.ErrNotFound) {
		return Header{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Header{}, err
	}

	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, r.corrupt(key, "unreadable header: %v", err)
	}
	return h, nil
}

// Get reassembles the artifact stored under key. A pending or absent header
// is ErrNotFound; any disagreement between header and shards is ErrCorrupt.
func (r *Repository) Get(ctx context.Context, key Key) ([]byte, Header, error) {
	h, err := r.Stat(ctx, key)
	if err != nil {
		return nil, Header{}, err
	}
	if h.Status != StatusComplete {
		return nil, Header{}, fmt.Errorf("%w: %s is %s", ErrNotFound, key, h.Status)
	}
	if h.ShardLimit <= 0 || h.TotalSize < 0 || h.ShardCount != shard.Count(h.TotalSize, h.ShardLimit) {
		return nil, Header{}, r.corrupt(key, "header declares %d shards for %d bytes at limit %d", h.ShardCount, h.TotalSize, h.ShardLimit)
	}

	shards := make([][]byte, h.ShardCount)
	for i := range shards {
		if err := ctx.Err(); err != nil {
			return nil, Header{}, err
		}
		s, err := r.store.GetDocument(ctx, shardPath(r.namespace, key, i))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Header{}, r.corrupt(key, "shard %d of %d missing", i, h.ShardCount)
		}
		if err != nil {
			return nil, Header{}, fmt.Errorf("reading shard %d of %s: %w", i, key, err)
		}
		last := i == h.ShardCount-1
		if len(s) > h.ShardLimit || (!last && len(s) != h.ShardLimit) {
			return nil, Header{}, r.corrupt(key, "shard %d has %d bytes, limit %d", i, len(s), h.ShardLimit)
		}
		shards[i] = s
	}

	b := shard.Join(shards)
	if len(b) != h.TotalSize {
		return nil, Header{}, r.corrupt(key, "reassembled %d bytes, header declares %d", len(b), h.TotalSize)
	}
	if h.Checksum != "" {
		sum := sha256.Sum256(b)
		if hex.EncodeToString(sum[:]) != h.Checksum {
			return nil, Header{}, r.corrupt(key, "checksum mismatch")
		}
	}
	return b, h, nil
}

func (r *Repository) corrupt(key Key, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	r.logger.Error("corrupt artifact", "key", key.String(), "detail", msg)
	return fmt.Errorf("%w: %s: %s", ErrCorrupt, key, msg)
}

// Delete removes every shard of key and then its header. Deleting an
// absent artifact is not an error.
func (r *Repository) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	n, err := r.store.DeletePrefix(ctx, shardPrefix(r.namespace, key))
	if err != nil {
		return fmt.Errorf("deleting shards of %s: %w", key, err)
	}
	if err := r.store.DeleteDocument(ctx, headerPath(r.namespace, key)); err != nil {
		return fmt.Errorf("deleting header of %s: %w", key, err)
	}
	r.logger.Debug("artifact deleted", "key", key.String(), "shards", n)
	return nil
}

// List returns the headers stored for owner, sorted by name.
func (r *Repository) List(ctx context.Context, owner string) ([]Header, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner is empty", ErrInvalidKey)
	}
	prefix := ownerPrefix(r.namespace, owner)
	paths, err := r.store.ListDocuments(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var headers []Header
	for _, p := range paths {
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue // shard record
		}
		data, err := r.store.GetDocument(ctx, p)
		if errors.Is(err, storage.ErrNotFound) {
			continue // deleted since listing
		}
		if err != nil {
			return nil, err
		}
		var h Header
		if err := json.Unmarshal(data, &h); err != nil {
			r.logger.Warn("skipping unreadable header", "path", p, "error", err)
			continue
		}
		headers = append(headers, h)
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })
	return headers, nil
}
