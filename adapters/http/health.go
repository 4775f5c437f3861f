package http

import (
	"context"
	"net/http"
	"time"

	"github.com/artpar/livesync/adapters/clock"
	"github.com/artpar/livesync/ports"
)

// Liveness returns OK while the process is serving.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks the persistence service of every store.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for _, name := range sortedKeys(h.cfg.Stores) {
		rc, ok := h.cfg.Stores[name].Service().(ports.ReadyChecker)
		if !ok {
			continue
		}
		if err := rc.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"store":  name,
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats reports uptime, transport state and container counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"stores": len(h.cfg.Stores),
		"lists":  len(h.cfg.Lists),
	}
	if h.cfg.Clock != nil {
		resp["uptime"] = clock.Since(h.cfg.Clock, h.cfg.StartedAt).Round(time.Second).String()
	}
	if h.cfg.Stats != nil {
		resp["transport"] = h.cfg.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
