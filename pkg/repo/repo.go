// Package repo defines the generic Repository interface and a Neo4j
// implementation of it.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no node matches the requested ID.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic CRUD interface. Merge is an idempotent
// create-or-update keyed on the entity ID.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Merge(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and ordering for List operations. OrderBy
// names a node property and sorts descending.
type ListOpts struct {
	Offset  int
	Limit   int
	OrderBy string
}
