// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Persistence Ports
// -----------------------------------------------------------------------------

// ErrNotFound is returned by services when no document has the requested id.
var ErrNotFound = errors.New("not found")

// Service persists the documents of one named collection.
type Service interface {
	// Insert stores a new document and returns its id.
	Insert(ctx context.Context, data map[string]any) (string, error)
	// Update replaces the document with the given id.
	Update(ctx context.Context, id string, data map[string]any) error
	// FindOne loads a document by id.
	FindOne(ctx context.Context, id string) (map[string]any, error)
	// Delete removes a document by id.
	Delete(ctx context.Context, id string) error
}

// ReadyChecker is implemented by services that need to finish connecting
// before they can be used.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// ServiceFactory builds the service for a collection name.
type ServiceFactory func(name string) (Service, error)
