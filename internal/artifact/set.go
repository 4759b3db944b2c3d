package artifact

import (
	"context"
	"errors"
)

// Set groups the three repositories kept per content item.
type Set struct {
	Index  *Repository
	Source *Repository
	Table  *Repository
}

// NewSet creates index, source, and table repositories over one store.
func NewSet(store DocumentStore, limit int) *Set {
	return &Set{
		Index:  NewRepository(store, NamespaceIndex, limit),
		Source: NewRepository(store, NamespaceSource, limit),
		Table:  NewRepository(store, NamespaceTable, limit),
	}
}

// DeleteAll removes key from every namespace. Errors are joined so one
// failing namespace does not leave the others behind.
func (s *Set) DeleteAll(ctx context.Context, key Key) error {
	var errs []error
	for _, r := range []*Repository{s.Index, s.Source, s.Table} {
		if err := r.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
