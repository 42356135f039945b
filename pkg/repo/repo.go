// Package repo defines keyed repositories for persisted documents and their
// Neo4j and filesystem backends.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no entity has the id.
var ErrNotFound = errors.New("repo: not found")

// Repository is a keyed store with upsert semantics.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	Put(ctx context.Context, id ID, entity T) error
	Delete(ctx context.Context, id ID) error
}
