// Package vectorindex is an in-memory cosine similarity index over text
// passages, with a compact binary encoding for storage as an artifact.
package vectorindex

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

// ErrDimension is returned when a vector does not match the index dimension.
var ErrDimension = errors.New("vector dimension mismatch")

// Entry is one indexed passage.
type Entry struct {
	Text   string
	Page   int // 1-based; 0 when the source has no pages
	Source string
	Vector []float32
}

// Hit is an entry returned from Search with its cosine similarity.
type Hit struct {
	Entry
	Score float32
}

// Index holds entries of a single embedding dimension.
type Index struct {
	Dim     int
	Entries []Entry

	norms []float32
}

// New creates an empty index. dim may be 0 to adopt the first entry's size.
func New(dim int) *Index {
	return &Index{Dim: dim}
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	return len(ix.Entries)
}

// Add appends an entry.
func (ix *Index) Add(e Entry) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimension)
	}
	if ix.Dim == 0 {
		ix.Dim = len(e.Vector)
	}
	if len(e.Vector) != ix.Dim {
		return fmt.Errorf("%w: got %d, index is %d", ErrDimension, len(e.Vector), ix.Dim)
	}
	ix.Entries = append(ix.Entries, e)
	ix.norms = append(ix.norms, norm(e.Vector))
	return nil
}

// Search returns up to k entries most similar to query, best first. Ties
// keep insertion order.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 || len(ix.Entries) == 0 {
		return nil, nil
	}
	if len(query) != ix.Dim {
		return nil, fmt.Errorf("%w: query has %d, index is %d", ErrDimension, len(query), ix.Dim)
	}
	qNorm := norm(query)
	if qNorm == 0 {
		return nil, nil
	}
	ix.ensureNorms()

	h := &hitHeap{}
	for i, e := range ix.Entries {
		s := cosine(query, e.Vector, qNorm, ix.norms[i])
		c := candidate{index: i, score: s}
		if h.Len() < k {
			heap.Push(h, c)
		} else if c.better((*h)[0]) {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}

	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		c := heap.Pop(h).(candidate)
		hits[i] = Hit{Entry: ix.Entries[c.index], Score: c.score}
	}
	return hits, nil
}

func (ix *Index) ensureNorms() {
	if len(ix.norms) == len(ix.Entries) {
		return
	}
	ix.norms = make([]float32, len(ix.Entries))
	for i, e := range ix.Entries {
		ix.norms[i] = norm(e.Vector)
	}
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

func cosine(a, b []float32, aNorm, bNorm float32) float32 {
	if bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (float64(aNorm) * float64(bNorm)))
}

type candidate struct {
	index int
	score float32
}

// better orders by score, then by earlier insertion.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.index < o.index
}

// hitHeap is a min-heap whose root is the worst kept candidate.
type hitHeap []candidate

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return h[j].better(h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
