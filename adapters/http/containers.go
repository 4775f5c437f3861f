package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/artpar/livesync/core/collection"
	"github.com/artpar/livesync/core/store"
	"github.com/go-chi/chi/v5"
)

// ListStores returns the names of all stores.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stores": sortedKeys(h.cfg.Stores)})
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (*store.Store, bool) {
	name := chi.URLParam(r, "name")
	s, ok := h.cfg.Stores[name]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "store "+name+" not found")
	}
	return s, ok
}

// GetStore returns a store snapshot.
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Get(""))
}

// ReplaceStore replaces the whole tree of a store.
func (h *Handler) ReplaceStore(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	var err error
	if m, isMap := body.(map[string]any); isMap {
		err = s.Replace(m)
	} else {
		err = s.SetRoot(body)
	}
	h.respondMutation(w, s, err)
}

// MergeStore merges an object into a store.
func (h *Handler) MergeStore(w http.ResponseWriter, r *http.Request) {
	s, ok := h.store(w, r)
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	m, isMap := body.(map[string]any)
	if !isMap {
		writeError(w, http.StatusBadRequest, "invalid_body", "merge body must be a JSON object")
		return
	}
	h.respondMutation(w, s, s.SetAll(m))
}

func (h *Handler) respondMutation(w http.ResponseWriter, s *store.Store, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, s.Get(""))
		return
	}
	if errors.Is(err, store.ErrValidation) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": map[string]string{
				"code":    "validation_failed",
				"message": err.Error(),
			},
			"failures": store.Failures(err),
		})
		return
	}
	h.cfg.Logger.Error().Err(err).Str("store", s.Name()).Msg("admin mutation failed")
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

// ListLists returns the names of all lists.
func (h *Handler) ListLists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"lists": sortedKeys(h.cfg.Lists)})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	name := chi.URLParam(r, "name")
	c, ok := h.cfg.Lists[name]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "list "+name+" not found")
	}
	return c, ok
}

// GetList returns the data of every item.
func (h *Handler) GetList(w http.ResponseWriter, r *http.Request) {
	c, ok := h.list(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.ToArray())
}

// PushList appends one object or an array of objects.
func (h *Handler) PushList(w http.ResponseWriter, r *http.Request) {
	c, ok := h.list(w, r)
	if !ok {
		return
	}
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	pushed, err := c.Push(body)
	switch {
	case errors.Is(err, collection.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, "invalid_item", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	case !pushed:
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "one or more items failed validation")
	default:
		writeJSON(w, http.StatusCreated, map[string]int{"length": c.Len()})
	}
}

// ClearList removes every item.
func (h *Handler) ClearList(w http.ResponseWriter, r *http.Request) {
	c, ok := h.list(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": c.Clear()})
}

// RemoveListItem removes the item at an index.
func (h *Handler) RemoveListItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.list(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid_index", "index must be a non-negative integer")
		return
	}
	item := c.Remove(index)
	if item == nil {
		writeError(w, http.StatusNotFound, "not_found", "no item at index "+strconv.Itoa(index))
		return
	}
	writeJSON(w, http.StatusOK, item.Get(""))
}
