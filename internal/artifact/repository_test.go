package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/sangam/internal/storage"
)

func openSQLite(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func openRedis(t *testing.T) *storage.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := storage.NewRedisStore(&redis.Options{Addr: mr.Addr()}, "artifact-test")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i/7)
	}
	return b
}

func backends(t *testing.T) map[string]func(t *testing.T) DocumentStore {
	return map[string]func(t *testing.T) DocumentStore{
		"sqlite": func(t *testing.T) DocumentStore { return openSQLite(t) },
		"redis":  func(t *testing.T) DocumentStore { return openRedis(t) },
	}
}

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	key := Key{Owner: "u1", Name: "report.pdf"}

	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			for _, size := range []int{0, 1, 99, 100, 101, 350} {
				repo := NewRepository(open(t), NamespaceIndex, 100)
				want := payload(size)

				h, err := repo.Put(ctx, key, KindDocument, want)
				require.NoError(t, err)
				assert.Equal(t, StatusComplete, h.Status)
				assert.Equal(t, size, h.TotalSize)

				got, gh, err := repo.Get(ctx, key)
				require.NoError(t, err, "size %d", size)
				assert.True(t, bytes.Equal(want, got), "size %d", size)
				assert.Equal(t, h.ShardCount, gh.ShardCount)
			}
		})
	}
}

func TestRepository_LargeArtifactShards(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	repo := NewRepository(store, NamespaceIndex, 716800)
	key := Key{Owner: "u1", Name: "big"}
	want := payload(1_500_000)

	h, err := repo.Put(ctx, key, KindDocument, want, WithContentType("application/octet-stream"))
	require.NoError(t, err)
	assert.Equal(t, 3, h.ShardCount)
	assert.Equal(t, "application/octet-stream", h.ContentType)

	last, err := store.GetDocument(ctx, shardPath(NamespaceIndex, key, 2))
	require.NoError(t, err)
	assert.Len(t, last, 66400)

	got, _, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(want, got))
}

func TestRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openSQLite(t), NamespaceIndex, 100)

	_, _, err := repo.Get(ctx, Key{Owner: "u1", Name: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Stat(ctx, Key{Owner: "u1", Name: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_PendingHeaderIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	repo := NewRepository(store, NamespaceIndex, 100)
	key := Key{Owner: "u1", Name: "half-written"}

	require.NoError(t, repo.writeHeader(ctx, key, Header{
		Name:       key.Name,
		TotalSize:  10,
		ShardCount: 1,
		ShardLimit: 100,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}))

	_, _, err := repo.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Corrupt(t *testing.T) {
	ctx := context.Background()
	key := Key{Owner: "u1", Name: "doc"}

	t.Run("missing shard", func(t *testing.T) {
		store := openSQLite(t)
		repo := NewRepository(store, NamespaceIndex, 100)
		_, err := repo.Put(ctx, key, KindDocument, payload(250))
		require.NoError(t, err)
		require.NoError(t, store.DeleteDocument(ctx, shardPath(NamespaceIndex, key, 2)))

		_, _, err = repo.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		store := openSQLite(t)
		repo := NewRepository(store, NamespaceIndex, 100)
		_, err := repo.Put(ctx, key, KindDocument, payload(150))
		require.NoError(t, err)

		tampered := payload(50)
		tampered[0] ^= 0xff
		require.NoError(t, store.PutDocument(ctx, shardPath(NamespaceIndex, key, 1), tampered))

		_, _, err = repo.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("short inner shard", func(t *testing.T) {
		store := openSQLite(t)
		repo := NewRepository(store, NamespaceIndex, 100)
		_, err := repo.Put(ctx, key, KindDocument, payload(250))
		require.NoError(t, err)
		require.NoError(t, store.PutDocument(ctx, shardPath(NamespaceIndex, key, 0), payload(10)))

		_, _, err = repo.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("header count disagrees with size", func(t *testing.T) {
		store := openSQLite(t)
		repo := NewRepository(store, NamespaceIndex, 100)
		h := Header{Name: key.Name, TotalSize: 150, ShardCount: 3, ShardLimit: 100, Status: StatusComplete}
		data, err := json.Marshal(h)
		require.NoError(t, err)
		require.NoError(t, store.PutDocument(ctx, headerPath(NamespaceIndex, key), data))

		_, _, err = repo.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("unreadable header", func(t *testing.T) {
		store := openSQLite(t)
		repo := NewRepository(store, NamespaceIndex, 100)
		require.NoError(t, store.PutDocument(ctx, headerPath(NamespaceIndex, key), []byte("{not json")))

		_, _, err := repo.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestRepository_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	repo := NewRepository(store, NamespaceIndex, 100)
	key := Key{Owner: "u1", Name: "doc"}

	_, err := repo.Put(ctx, key, KindDocument, payload(250))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, key))
	require.NoError(t, repo.Delete(ctx, key))

	_, _, err = repo.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	paths, err := store.ListDocuments(ctx, "owner/")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRepository_DeleteIsCaseSensitive(t *testing.T) {
	ctx := context.Background()

	for backend, open := range backends(t) {
		t.Run(backend, func(t *testing.T) {
			repo := NewRepository(open(t), NamespaceIndex, 4)
			upper := Key{Owner: "Alice", Name: "report.pdf"}
			lower := Key{Owner: "alice", Name: "report.pdf"}
			sibling := Key{Owner: "alice", Name: "Report.pdf"}

			for _, k := range []Key{upper, lower, sibling} {
				_, err := repo.Put(ctx, k, KindDocument, []byte("0123456789"))
				require.NoError(t, err)
			}

			require.NoError(t, repo.Delete(ctx, lower))

			_, _, err := repo.Get(ctx, lower)
			assert.ErrorIs(t, err, ErrNotFound)
			for _, k := range []Key{upper, sibling} {
				got, _, err := repo.Get(ctx, k)
				require.NoError(t, err, "key %s", k)
				assert.Equal(t, "0123456789", string(got))
			}

			headers, err := repo.List(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, headers, 1)
			assert.Equal(t, "Report.pdf", headers[0].Name)
		})
	}
}

func TestRepository_NamespacesAndOwnersAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	set := NewSet(store, 100)
	key := Key{Owner: "u1", Name: "doc"}

	_, err := set.Index.Put(ctx, key, KindTable, []byte("index"))
	require.NoError(t, err)
	_, err = set.Source.Put(ctx, key, KindTable, []byte("source"))
	require.NoError(t, err)
	_, err = set.Table.Put(ctx, key, KindTable, []byte("table"))
	require.NoError(t, err)

	got, _, err := set.Source.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "source", string(got))

	_, _, err = set.Index.Get(ctx, Key{Owner: "u2", Name: "doc"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, set.DeleteAll(ctx, key))
	for _, r := range []*Repository{set.Index, set.Source, set.Table} {
		_, _, err := r.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound, "namespace %s", r.Namespace())
	}
}

func TestRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openSQLite(t), NamespaceIndex, 100)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := repo.Put(ctx, Key{Owner: "u1", Name: name}, KindDocument, payload(230))
		require.NoError(t, err)
	}
	_, err := repo.Put(ctx, Key{Owner: "u2", Name: "other"}, KindDocument, payload(5))
	require.NoError(t, err)

	headers, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, headers, 3)
	assert.Equal(t, "alpha", headers[0].Name)
	assert.Equal(t, "mid", headers[1].Name)
	assert.Equal(t, "zeta", headers[2].Name)
}

func TestRepository_InvalidInput(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openSQLite(t), NamespaceIndex, 100)

	_, err := repo.Put(ctx, Key{Owner: "", Name: "x"}, KindDocument, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = repo.Put(ctx, Key{Owner: "u", Name: "a\nb"}, KindDocument, nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = repo.Put(ctx, Key{Owner: "u", Name: "x"}, Kind("video"), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyPaths(t *testing.T) {
	k := Key{Owner: "u 1", Name: "a/b"}
	assert.Equal(t, "u 1:a/b", k.String())
	assert.Equal(t, "owner/u%201/artifact/a%2Fb", headerPath(NamespaceIndex, k))
	assert.Equal(t, "owner/u%201/source/a%2Fb/shard/3", shardPath(NamespaceSource, k, 3))
}
