package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/livesync/adapters/idgen"
	"github.com/artpar/livesync/adapters/memory"
	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/ports"
)

func waitReady(t *testing.T, s *store.Store) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("store did not become ready")
	}
}

func TestSave_InsertThenUpdate(t *testing.T) {
	docs := memory.NewDocumentStore(idgen.NewSequential("doc-"))
	s := newStore(t, "Counter", store.Config{
		Service:  docs.Factory(),
		Defaults: map[string]any{"count": 1},
	})
	waitReady(t, s)
	log := watch(s, "value.set")
	ctx := context.Background()

	res, err := s.Save(ctx, false)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !res.Created || res.ID != "doc-1" {
		t.Errorf("Save() = %+v, want created doc-1", res)
	}
	if s.ID() != "doc-1" {
		t.Errorf("ID() = %q, want doc-1", s.ID())
	}
	if len(log.Events()) != 0 {
		t.Errorf("id write-back must be silent, got %v", log.Events())
	}

	if err := s.SetKey("count", 2); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	res, err = s.Save(ctx, false)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if res.Created || res.ID != "doc-1" {
		t.Errorf("Save() = %+v, want update of doc-1", res)
	}

	doc, err := docs.Service("Counter").FindOne(ctx, "doc-1")
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if doc["count"] != 2 {
		t.Errorf("stored count = %v, want 2", doc["count"])
	}

	res, err = s.Save(ctx, true)
	if err != nil {
		t.Fatalf("Save(force) failed: %v", err)
	}
	if !res.Created || res.ID == "doc-1" {
		t.Errorf("Save(force) = %+v, want a new document", res)
	}
}

func TestSave_NoService(t *testing.T) {
	s := newStore(t, "Local", store.Config{Defaults: map[string]any{"id": "abc"}})

	res, err := s.Save(context.Background(), false)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if res.ID != "abc" || res.Created {
		t.Errorf("Save() = %+v, want id abc", res)
	}
}

func TestFetch(t *testing.T) {
	docs := memory.NewDocumentStore(idgen.NewSequential("doc-"))
	ctx := context.Background()
	id, _ := docs.Service("notes").Insert(ctx, map[string]any{"text": "hello"})

	s := newStore(t, "Note", store.Config{Service: docs.Factory(), Collection: "notes"})
	waitReady(t, s)

	if err := s.Fetch(ctx, id); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if s.Get("text") != "hello" || s.ID() != id {
		t.Errorf("tree = %v", s.Get(""))
	}

	if err := s.Fetch(ctx, "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFetch_NoService(t *testing.T) {
	s := newStore(t, "Local", store.Config{})
	if err := s.Fetch(context.Background(), "x"); !errors.Is(err, store.ErrNoService) {
		t.Errorf("Fetch error = %v, want ErrNoService", err)
	}
}

func TestAutoSave(t *testing.T) {
	docs := memory.NewDocumentStore(idgen.NewSequential("doc-"))
	s := newStore(t, "Auto", store.Config{Service: docs.Factory(), AutoSave: true})
	waitReady(t, s)

	if err := s.SetKey("v", 1); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if docs.Count("Auto") != 1 {
		t.Fatalf("Count = %d, want 1 after autosave", docs.Count("Auto"))
	}
	if err := s.SetKey("v", 2); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	if docs.Count("Auto") != 1 {
		t.Errorf("Count = %d, want 1, second write must update", docs.Count("Auto"))
	}

	if err := s.SetKey("v", 3, store.Options{NoAutoSave: true}); err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}
	doc, _ := docs.Service("Auto").FindOne(context.Background(), s.ID())
	if doc["v"] != 2 {
		t.Errorf("stored v = %v, want 2", doc["v"])
	}
}

func TestAutoSave_InitialFetch(t *testing.T) {
	docs := memory.NewDocumentStore(idgen.UUID{})
	ctx := context.Background()
	if _, err := docs.Service("Profile").Insert(ctx, map[string]any{"id": "me", "nick": "zed"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	s := newStore(t, "Profile", store.Config{
		Service:  docs.Factory(),
		AutoSave: true,
		Defaults: map[string]any{"id": "me"},
	})
	waitReady(t, s)

	if s.Get("nick") != "zed" {
		t.Errorf("nick = %v, want zed", s.Get("nick"))
	}
}

func TestDelete(t *testing.T) {
	docs := memory.NewDocumentStore(idgen.NewSequential("doc-"))
	s := newStore(t, "Del", store.Config{Service: docs.Factory()})
	waitReady(t, s)
	ctx := context.Background()

	if err := s.Delete(ctx); err != nil {
		t.Errorf("Delete without id error = %v, want nil", err)
	}

	if _, err := s.Save(ctx, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if docs.Count("Del") != 0 {
		t.Errorf("Count = %d, want 0", docs.Count("Del"))
	}
}

func TestDelete_NoServiceClearsTree(t *testing.T) {
	s := newStore(t, "Local", store.Config{Defaults: map[string]any{"a": 1}})

	if err := s.Delete(context.Background()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Has("a") {
		t.Error("tree should be cleared")
	}
}
