package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/livesync/core/dotpath"
)

// ErrNoService is returned by Fetch when the store has no service.
var ErrNoService = errors.New("store has no service")

// SaveResult is the outcome of Save.
type SaveResult struct {
	ID      string
	Created bool
}

// ID returns the store's "id" property as a string, or "".
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return idOf(s.properties)
}

func idOf(props any) string {
	m, ok := props.(map[string]any)
	if !ok || m["id"] == nil {
		return ""
	}
	return jsString(m["id"])
}

// Fetch loads the document with id from the service and merges it into the
// store. An empty id uses the store's own "id" property.
func (s *Store) Fetch(ctx context.Context, id string) error {
	if s.service == nil {
		return ErrNoService
	}
	if id == "" {
		id = s.ID()
	}
	if id == "" {
		s.logger.Debug().Msg("fetch skipped, no id")
		return nil
	}

	data, err := s.service.FindOne(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", id, err)
	}
	if data == nil {
		return nil
	}
	return s.SetAll(data, Options{NoAutoSave: true})
}

// Save persists the store. Without a service it only reports the current id.
// An existing id updates the document unless forceCreate is set; otherwise
// the document is inserted and the new id written back silently.
func (s *Store) Save(ctx context.Context, forceCreate bool) (SaveResult, error) {
	s.mu.Lock()
	props := s.properties
	id := idOf(props)
	s.mu.Unlock()

	if s.service == nil {
		return SaveResult{ID: id}, nil
	}

	m, ok := props.(map[string]any)
	if !ok {
		return SaveResult{}, fmt.Errorf("save: %w", ErrNotObject)
	}
	data := dotpath.Clone(m).(map[string]any)

	if id != "" && !forceCreate {
		if err := s.service.Update(ctx, id, data); err != nil {
			return SaveResult{}, fmt.Errorf("update %s: %w", id, err)
		}
		return SaveResult{ID: id}, nil
	}

	delete(data, "id")
	newID, err := s.service.Insert(ctx, data)
	if err != nil {
		return SaveResult{}, fmt.Errorf("insert: %w", err)
	}
	if err := s.SetKey("id", newID, Options{Silent: true, NoValidation: true, NoSync: true, NoAutoSave: true}); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{ID: newID, Created: true}, nil
}

// Delete removes the store's document from the service. Without a service the
// local tree is cleared instead.
func (s *Store) Delete(ctx context.Context) error {
	if s.service == nil {
		s.mu.Lock()
		s.properties = map[string]any{}
		s.version++
		s.mu.Unlock()
		return nil
	}

	id := s.ID()
	if id == "" {
		return nil
	}
	if err := s.service.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
