package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/livesync/ports"
)

// DocumentStore persists store documents in the documents table.
type DocumentStore struct {
	db    *DB
	ids   ports.IDGenerator
	clock ports.Clock
}

// NewDocumentStore creates a document store. The database must be migrated.
func NewDocumentStore(db *DB, ids ports.IDGenerator, clock ports.Clock) *DocumentStore {
	return &DocumentStore{db: db, ids: ids, clock: clock}
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

// Count returns the number of documents in a collection.
func (d *DocumentStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection,
	).Scan(&n)
	return n, err
}

// Service implements ports.Service for one collection.
type Service struct {
	store      *DocumentStore
	collection string
}

// Insert stores data under a new id. An "id" already present in data is kept.
func (s *Service) Insert(ctx context.Context, data map[string]any) (string, error) {
	id, _ := data["id"].(string)
	if id == "" {
		id = s.store.ids.New()
	}

	doc, err := encode(data, id)
	if err != nil {
		return "", err
	}

	now := s.store.clock.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.store.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		s.collection, id, doc, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert %s/%s: %w", s.collection, id, err)
	}
	return id, nil
}

// Update replaces the document with id.
func (s *Service) Update(ctx context.Context, id string, data map[string]any) error {
	doc, err := encode(data, id)
	if err != nil {
		return err
	}

	res, err := s.store.db.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		doc, s.store.clock.Now().UTC().Format(time.RFC3339Nano), s.collection, id,
	)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", s.collection, id, err)
	}
	return s.affected(res, "update", id)
}

// FindOne loads the document with id.
func (s *Service) FindOne(ctx context.Context, id string) (map[string]any, error) {
	var raw string
	err := s.store.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		s.collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	res, err := s.store.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		s.collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.collection, id, err)
	}
	return s.affected(res, "delete", id)
}

// Ready pings the database.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.db.PingContext(ctx)
}

func (s *Service) affected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s/%s: %w", op, s.collection, id, ports.ErrNotFound)
	}
	return nil
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
