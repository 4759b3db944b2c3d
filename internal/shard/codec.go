// Package shard frames byte sequences into ordered, size-bounded shards so
// they fit under a document store's per-record ceiling.
package shard

import (
	"errors"
	"fmt"
)

const (
	// RecordCeiling is the hard per-record size limit of the backing store.
	RecordCeiling = 1 << 20

	// DefaultLimit leaves headroom under RecordCeiling for record envelopes.
	DefaultLimit = 700 * 1024
)

// ErrInvalidLimit is returned when a shard limit is not positive.
var ErrInvalidLimit = errors.New("shard limit must be positive")

// Split cuts b into consecutive shards of exactly limit bytes, except the
// final shard which may be shorter. Empty input yields no shards. Shards
// alias b; callers must not mutate b while the shards are in use.
func Split(b []byte, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	if len(b) == 0 {
		return nil, nil
	}

	shards := make([][]byte, 0, Count(len(b), limit))
	for start := 0; start < len(b); start += limit {
		end := min(start+limit, len(b))
		shards = append(shards, b[start:end:end])
	}
	return shards, nil
}

// Join concatenates shards in order. Join(Split(b, n)) == b for any b and n > 0.
func Join(shards [][]byte) []byte {
	total := 0
	for _, s := range shards {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range shards {
		out = append(out, s...)
	}
	return out
}

// Count returns the number of shards Split produces for size bytes.
func Count(size, limit int) int {
	if size <= 0 || limit <= 0 {
		return 0
	}
	return (size + limit - 1) / limit
}
