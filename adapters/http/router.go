// Package http provides the admin HTTP API: health checks, Prometheus
// metrics and REST access to the synced stores and lists.
package http

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/artpar/livesync/adapters/metrics"
	"github.com/artpar/livesync/core/collection"
	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/core/transport"
	"github.com/artpar/livesync/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 1 << 20

// RouterConfig holds the containers and collaborators served by the router.
type RouterConfig struct {
	Stores map[string]*store.Store
	Lists  map[string]*collection.Collection

	// Stats reports the transport state, nil when no socket is open.
	Stats func() transport.Stats

	Metrics        *metrics.Collector
	MetricsPath    string
	MetricsHandler http.Handler

	Clock     ports.Clock
	StartedAt time.Time
	Logger    zerolog.Logger
}

// Handler serves the admin API.
type Handler struct {
	cfg RouterConfig
}

// NewRouter creates the admin router.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	h := &Handler{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(cfg.Logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.MetricsPath))
	}

	r.Get("/health", h.Liveness)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)

	if cfg.MetricsHandler != nil {
		r.Handle(cfg.MetricsPath, cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)

		r.Get("/stores", h.ListStores)
		r.Get("/stores/{name}", h.GetStore)
		r.Put("/stores/{name}", h.ReplaceStore)
		r.Patch("/stores/{name}", h.MergeStore)

		r.Get("/lists", h.ListLists)
		r.Get("/lists/{name}", h.GetList)
		r.Post("/lists/{name}", h.PushList)
		r.Delete("/lists/{name}", h.ClearList)
		r.Delete("/lists/{name}/{index}", h.RemoveListItem)
	})

	return r
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request) (any, bool) {
	var body any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON: "+err.Error())
		return nil, false
	}
	return body, true
}
