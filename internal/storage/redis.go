package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/sangam/internal/shard"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 256

// RedisStore keeps documents as Redis string values. Every key is prefixed
// with "{namespace}:" so several deployments can share one Redis.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
	maxRecord int
}

// NewRedisStore creates a document store on the Redis described by opts.
func NewRedisStore(opts *redis.Options, namespace string) (*RedisStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("redis namespace cannot be empty")
	}
	return &RedisStore{
		rdb:       redis.NewClient(opts),
		namespace: namespace,
		maxRecord: shard.RecordCeiling,
	}, nil
}

// Client exposes the underlying Redis client so pub/sub can share the connection pool.
func (s *RedisStore) Client() *redis.Client {
	return s.rdb
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// SetMaxRecordSize overrides the per-record ceiling enforced by PutDocument.
func (s *RedisStore) SetMaxRecordSize(n int) {
	s.maxRecord = n
}

func (s *RedisStore) key(path string) string {
	return s.namespace + ":" + path
}

func (s *RedisStore) GetDocument(ctx context.Context, path string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	return data, nil
}

func (s *RedisStore) PutDocument(ctx context.Context, path string, data []byte) error {
	if s.maxRecord > 0 && len(data) > s.maxRecord {
		return fmt.Errorf("%w: %s is %d bytes, ceiling %d", ErrRecordTooLarge, path, len(data), s.maxRecord)
	}
	if err := s.rdb.Set(ctx, s.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("writing document %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) DeleteDocument(ctx context.Context, path string) error {
	if err := s.rdb.Del(ctx, s.key(path)).Err(); err != nil {
		return fmt.Errorf("deleting document %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("deleting documents under %s: %w", prefix, err)
	}
	return int(n), nil
}

func (s *RedisStore) ListDocuments(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(keys))
	for i, k := range keys {
		paths[i] = strings.TrimPrefix(k, s.namespace+":")
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *RedisStore) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.key(prefix)) + "*"
	var keys []string
	iter := s.rdb.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", prefix, err)
	}
	return keys, nil
}

// escapeGlob escapes the characters Redis MATCH patterns treat specially.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
