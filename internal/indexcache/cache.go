// Package indexcache keeps deserialized similarity indexes in process memory
// for a bounded time so repeated questions skip the artifact store.
package indexcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a loaded entry stays live.
const DefaultTTL = 600 * time.Second

// Key identifies one cached entry.
type Key struct {
	Owner string
	Name  string
}

func (k Key) String() string {
	return k.Owner + ":" + k.Name
}

// flightKey cannot collide for owners or names containing ':'.
func (k Key) flightKey() string {
	return k.Owner + "\x00" + k.Name
}

// Loader produces the value for a missed key. found == false means the
// underlying artifact does not exist; neither that nor an error is cached.
type Loader[V any] func(ctx context.Context) (value V, found bool, err error)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// load tracks one loader run so Invalidate can veto its result.
type load struct {
	invalidated bool
}

// Cache is a TTL cache with per-key single-flight loading.
type Cache[V any] struct {
	ttl   time.Duration
	clock Clock
	group singleflight.Group

	mu       sync.Mutex
	entries  map[Key]entry[V]
	inflight map[Key]*load
}

// New creates a Cache. A non-positive ttl selects DefaultTTL.
func New[V any](ttl time.Duration) *Cache[V] {
	return NewWithClock[V](ttl, realClock{})
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock[V any](ttl time.Duration, clock Clock) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		ttl:      ttl,
		clock:    clock,
		entries:  make(map[Key]entry[V]),
		inflight: make(map[Key]*load),
	}
}

type result[V any] struct {
	value V
	found bool
}

// GetOrLoad returns the live entry for key, or runs loader and caches a
// found value. Concurrent misses on one key share a single loader call.
// The shared call keeps the values of the caller that started it but not
// its cancellation: a caller that gives up returns ctx.Err() alone while
// the others still receive the result.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key Key, loader Loader[V]) (V, bool, error) {
	if v, ok := c.lookup(key); ok {
		return v, true, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.flightKey(), func() (any, error) {
		return c.run(loadCtx, key, loader)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, false, r.Err
		}
		res := r.Val.(result[V])
		return res.value, res.found, nil
	}
}

func (c *Cache[V]) lookup(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) run(ctx context.Context, key Key, loader Loader[V]) (result[V], error) {
	// Another flight may have stored the value between lookup and now.
	if v, ok := c.lookup(key); ok {
		return result[V]{value: v, found: true}, nil
	}

	l := &load{}
	c.mu.Lock()
	c.inflight[key] = l
	c.mu.Unlock()

	v, found, err := loader(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] == l {
		delete(c.inflight, key)
	}
	if err != nil {
		return result[V]{}, err
	}
	if found && !l.invalidated {
		c.entries[key] = entry[V]{value: v, expiresAt: c.clock.Now().Add(c.ttl)}
	}
	return result[V]{value: v, found: found}, nil
}

// Invalidate drops key. A load running at the time will not store its result.
func (c *Cache[V]) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	if l, ok := c.inflight[key]; ok {
		l.invalidated = true
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	c.group.Forget(key.flightKey())
}

// Len reports stored entries, including expired ones not yet looked up.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
