package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/livesync/adapters/clock"
	apihttp "github.com/artpar/livesync/adapters/http"
	"github.com/artpar/livesync/adapters/idgen"
	"github.com/artpar/livesync/adapters/memory"
	"github.com/artpar/livesync/adapters/metrics"
	"github.com/artpar/livesync/core/collection"
	"github.com/artpar/livesync/core/store"
	"github.com/artpar/livesync/core/transport"
	"github.com/artpar/livesync/core/validation"
	"github.com/artpar/livesync/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	router  http.Handler
	counter *store.Store
	chat    *collection.Collection
	clock   *clock.Fake
	reg     *prometheus.Registry
}

func setup(t *testing.T) *fixture {
	t.Helper()

	counter, err := store.New("Counter", store.Config{
		Schema: validation.Schema{
			"count": {Type: "number", Required: true},
		},
		Defaults: map[string]any{"count": 0},
		Service:  memory.NewDocumentStore(idgen.NewSequential("doc-")).Factory(),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	<-counter.Ready()

	chat, err := collection.New("Chat", collection.Config{
		Item: store.Config{
			Schema: validation.Schema{"text": {Type: "string", Min: 1}},
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("collection.New: %v", err)
	}

	clk := clock.NewFake(baseTime)
	reg := prometheus.NewRegistry()

	router := apihttp.NewRouter(apihttp.RouterConfig{
		Stores: map[string]*store.Store{"counter": counter},
		Lists:  map[string]*collection.Collection{"chat": chat},
		Stats: func() transport.Stats {
			return transport.Stats{Connections: 2, Channels: []string{"chatlist", "countermodel"}}
		},
		Metrics:        metrics.NewWithRegistry(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Clock:          clk,
		StartedAt:      baseTime,
		Logger:         zerolog.Nop(),
	})

	return &fixture{router: router, counter: counter, chat: chat, clock: clk, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := setup(t)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rec := f.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
		if got := decode(t, rec)["status"]; got != "ok" {
			t.Errorf("GET %s status field = %v", path, got)
		}
	}
}

type failingService struct{ *memory.Service }

func (failingService) Ready(ctx context.Context) error { return errors.New("backend down") }

func TestReadiness_Unhealthy(t *testing.T) {
	s, err := store.New("Broken", store.Config{
		Service: func(string) (ports.Service, error) { return failingService{}, nil },
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	<-s.Ready()

	router := apihttp.NewRouter(apihttp.RouterConfig{
		Stores: map[string]*store.Store{"broken": s},
		Logger: zerolog.Nop(),
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := decode(t, rec)["store"]; got != "broken" {
		t.Errorf("store = %v, want broken", got)
	}
}

func TestStats(t *testing.T) {
	f := setup(t)
	f.clock.Advance(90 * time.Second)

	got := decode(t, f.do(t, http.MethodGet, "/api/stats", ""))
	if got["uptime"] != "1m30s" {
		t.Errorf("uptime = %v, want 1m30s", got["uptime"])
	}
	if got["stores"] != 1.0 || got["lists"] != 1.0 {
		t.Errorf("counts = %v", got)
	}
	tr, _ := got["transport"].(map[string]any)
	if tr["connections"] != 2.0 {
		t.Errorf("transport = %v", got["transport"])
	}
}

func TestStores_GetAndList(t *testing.T) {
	f := setup(t)

	got := decode(t, f.do(t, http.MethodGet, "/api/stores", ""))
	if names, _ := got["stores"].([]any); len(names) != 1 || names[0] != "counter" {
		t.Errorf("stores = %v", got)
	}

	rec := f.do(t, http.MethodGet, "/api/stores/counter", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec); got["count"] != 0.0 {
		t.Errorf("snapshot = %v", got)
	}

	if rec := f.do(t, http.MethodGet, "/api/stores/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing store status = %d, want 404", rec.Code)
	}
}

func TestStores_Mutations(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPatch, "/api/stores/counter", `{"count": 5, "label": "five"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d body = %s", rec.Code, rec.Body)
	}
	if f.counter.Get("count") != 5.0 || f.counter.Get("label") != "five" {
		t.Errorf("after PATCH = %v", f.counter.Get(""))
	}

	rec = f.do(t, http.MethodPut, "/api/stores/counter", `{"count": 7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d body = %s", rec.Code, rec.Body)
	}
	if f.counter.Has("label") {
		t.Errorf("PUT should replace the tree, got %v", f.counter.Get(""))
	}

	if rec := f.do(t, http.MethodPatch, "/api/stores/counter", `[1,2]`); rec.Code != http.StatusBadRequest {
		t.Errorf("PATCH array status = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPatch, "/api/stores/counter", `{bad`); rec.Code != http.StatusBadRequest {
		t.Errorf("PATCH malformed status = %d, want 400", rec.Code)
	}
}

func TestStores_ValidationFailure(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPatch, "/api/stores/counter", `{"count": "many"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	got := decode(t, rec)
	failures, _ := got["failures"].([]any)
	if len(failures) != 1 {
		t.Fatalf("failures = %v", got["failures"])
	}
	if fail := failures[0].(map[string]any); fail["property"] != "count" || fail["errCode"] != float64(validation.CodeNumberType) {
		t.Errorf("failure = %v", fail)
	}
	if f.counter.Get("count") != 0 {
		t.Errorf("count = %v, invalid write must not apply", f.counter.Get("count"))
	}
}

func TestLists(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodPost, "/api/lists/chat", `[{"text": "hi"}, {"text": "there"}]`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST status = %d body = %s", rec.Code, rec.Body)
	}
	if got := decode(t, rec); got["length"] != 2.0 {
		t.Errorf("length = %v", got["length"])
	}

	if rec := f.do(t, http.MethodPost, "/api/lists/chat", `{"text": ""}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid item status = %d, want 422", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/lists/chat", `42`); rec.Code != http.StatusBadRequest {
		t.Errorf("non-object status = %d, want 400", rec.Code)
	}
	if f.chat.Len() != 2 {
		t.Fatalf("Len = %d, want 2", f.chat.Len())
	}

	var items []map[string]any
	rec = f.do(t, http.MethodGet, "/api/lists/chat", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil || len(items) != 2 || items[1]["text"] != "there" {
		t.Errorf("GET list = %s", rec.Body)
	}

	rec = f.do(t, http.MethodDelete, "/api/lists/chat/0", "")
	if rec.Code != http.StatusOK || decode(t, rec)["text"] != "hi" {
		t.Errorf("DELETE index = %d %s", rec.Code, rec.Body)
	}
	if rec := f.do(t, http.MethodDelete, "/api/lists/chat/9", ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE missing index status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/lists/chat/x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("DELETE bad index status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/lists/chat", "")
	if got := decode(t, rec); got["removed"] != 1.0 {
		t.Errorf("removed = %v, want 1", got["removed"])
	}

	if rec := f.do(t, http.MethodGet, "/api/lists/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing list status = %d, want 404", rec.Code)
	}
	if got := decode(t, f.do(t, http.MethodGet, "/api/lists", "")); len(got["lists"].([]any)) != 1 {
		t.Errorf("lists = %v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodGet, "/api/stores/counter", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `livesync_admin_requests_total{method="GET",route="/api/stores/{name}",status="2xx"} 1`) {
		t.Errorf("metrics output missing admin request sample:\n%s", body)
	}
}
