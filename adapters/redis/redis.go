// Package redis provides a Redis document backend for stores. Each document
// is a JSON string at livesync:{prefix}:{collection}:{id}.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artpar/livesync/ports"
	"github.com/redis/go-redis/v9"
)

// DocumentStore persists documents in Redis. It is safe for concurrent use.
type DocumentStore struct {
	rdb    *redis.Client
	prefix string
	ids    ports.IDGenerator
}

// NewDocumentStore connects to Redis with opts. prefix namespaces every key
// and must not be empty.
func NewDocumentStore(opts *redis.Options, prefix string, ids ports.IDGenerator) (*DocumentStore, error) {
	if prefix == "" {
		return nil, fmt.Errorf("redis key prefix cannot be empty")
	}
	return &DocumentStore{
		rdb:    redis.NewClient(opts),
		prefix: prefix,
		ids:    ids,
	}, nil
}

// Close closes the Redis connection.
func (d *DocumentStore) Close() error {
	return d.rdb.Close()
}

// Ping verifies Redis connectivity.
func (d *DocumentStore) Ping(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}

// Key returns the Redis key of a document.
func (d *DocumentStore) Key(collection, id string) string {
	return fmt.Sprintf("livesync:%s:%s:%s", d.prefix, collection, id)
}

// Service returns the service for one collection.
func (d *DocumentStore) Service(collection string) *Service {
	return &Service{store: d, collection: collection}
}

// Factory returns a ports.ServiceFactory backed by this store.
func (d *DocumentStore) Factory() ports.ServiceFactory {
	return func(name string) (ports.Service, error) {
		return d.Service(name), nil
	}
}

// Service implements ports.Service for one collection.
type Service struct {
	store      *DocumentStore
	collection string
}

// Insert stores data under a new id. An "id" already present in data is kept;
// inserting over an existing document fails.
func (s *Service) Insert(ctx context.Context, data map[string]any) (string, error) {
	id, _ := data["id"].(string)
	if id == "" {
		id = s.store.ids.New()
	}

	doc, err := encode(data, id)
	if err != nil {
		return "", err
	}

	ok, err := s.store.rdb.SetNX(ctx, s.store.Key(s.collection, id), doc, 0).Result()
	if err != nil {
		return "", fmt.Errorf("insert %s/%s: %w", s.collection, id, err)
	}
	if !ok {
		return "", fmt.Errorf("insert %s/%s: document exists", s.collection, id)
	}
	return id, nil
}

// Update replaces the document with id.
func (s *Service) Update(ctx context.Context, id string, data map[string]any) error {
	doc, err := encode(data, id)
	if err != nil {
		return err
	}

	ok, err := s.store.rdb.SetXX(ctx, s.store.Key(s.collection, id), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", s.collection, id, err)
	}
	if !ok {
		return fmt.Errorf("update %s/%s: %w", s.collection, id, ports.ErrNotFound)
	}
	return nil
}

// FindOne loads the document with id.
func (s *Service) FindOne(ctx context.Context, id string) (map[string]any, error) {
	raw, err := s.store.rdb.Get(ctx, s.store.Key(s.collection, id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("find %s/%s: %w", s.collection, id, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("find %s/%s: %w", s.collection, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", s.collection, id, err)
	}
	return doc, nil
}

// Delete removes the document with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.rdb.Del(ctx, s.store.Key(s.collection, id)).Result()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", s.collection, id, ports.ErrNotFound)
	}
	return nil
}

// Ready pings Redis.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func encode(data map[string]any, id string) (string, error) {
	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc["id"] = id

	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode document %s: %w", id, err)
	}
	return string(b), nil
}

// Ensure interface compliance.
var (
	_ ports.Service      = (*Service)(nil)
	_ ports.ReadyChecker = (*Service)(nil)
)
