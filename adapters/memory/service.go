// Package memory provides the in-memory document service. It is the default
// storage driver and the test double for the persistent ones.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/livesync/core/dotpath"
	"github.com/artpar/livesync/ports"
)

// DocumentStore keeps the documents of every collection in memory.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	ids         ports.IDGenerator
}

// NewDocumentStore creates an empty in-memory document store.
func NewDocumentStore(ids ports.IDGenerator) *DocumentStore {
	return &DocumentStore{
		collections: make(map[string]map[string]map[string]any),
		ids:         ids,
	}
}

// Service returns the service for one collection.
func (d *DocumentStore) Service(name string) *Service {
	return &Service{store: d, collection: name}
}

// Factory returns a ports.ServiceFactory backed by this store.
func (d *DocumentStore) Factory() ports.ServiceFactory {
	return func(name string) (ports.Service, error) {
		return d.Service(name), nil
	}
}

// Count returns the number of documents in a collection.
func (d *DocumentStore) Count(collection string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.collections[collection])
}

// Service is an in-memory implementation of ports.Service.
type Service struct {
	store      *DocumentStore
	collection string
}

// Insert stores a copy of data under a new id. An "id" already present in
// data is kept.
func (s *Service) Insert(ctx context.Context, data map[string]any) (string, error) {
	d := s.store
	d.mu.Lock()
	defer d.mu.Unlock()

	id, _ := data["id"].(string)
	if id == "" {
		id = d.ids.New()
	}

	doc := dotpath.Clone(data).(map[string]any)
	doc["id"] = id

	coll, ok := d.collections[s.collection]
	if !ok {
		coll = make(map[string]map[string]any)
		d.collections[s.collection] = coll
	}
	coll[id] = doc
	return id, nil
}

// Update replaces the document with id.
func (s *Service) Update(ctx context.Context, id string, data map[string]any) error {
	d := s.store
	d.mu.Lock()
	defer d.mu.Unlock()

	coll := d.collections[s.collection]
	if _, ok := coll[id]; !ok {
		return fmt.Errorf("update %s/%s: %w", s.collection, id, ports.ErrNotFound)
	}
	doc := dotpath.Clone(data).(map[string]any)
	doc["id"] = id
	coll[id] = doc
	return nil
}

// FindOne returns a copy of the document with id.
func (s *Service) FindOne(ctx context.Context, id string) (map[string]any, error) {
	d := s.store
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.collections[s.collection][id]
	if !ok {
		return nil, fmt.Errorf("find %s/%s: %w", s.collection, id, ports.ErrNotFound)
	}
	return dotpath.Clone(doc).(map[string]any), nil
}

// Delete removes the document with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	d := s.store
	d.mu.Lock()
	defer d.mu.Unlock()

	coll := d.collections[s.collection]
	if _, ok := coll[id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", s.collection, id, ports.ErrNotFound)
	}
	delete(coll, id)
	return nil
}

// Ready always succeeds.
func (s *Service) Ready(ctx context.Context) error {
	return ctx.Err()
}

// Ensure interface compliance.
var (
	_ ports.Service      = (*Service)(nil)
	_ ports.ReadyChecker = (*Service)(nil)
)
