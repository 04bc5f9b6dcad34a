package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/logger"
	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/metrics"
	"github.com/lazypower/orgmem/internal/similarity"
	"github.com/lazypower/orgmem/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	idx, err := similarity.NewStore("", similarity.NewHashEmbedder(64), logger.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	e := engine.New(db, idx, engine.WithLogger(logger.Nop()), engine.WithMetrics(metrics.NewCollector("orgmem_test")))
	return New(e, "test-version")
}

// base returns the path prefix for a fresh tenant and the team "ops".
func base() string {
	return uuid.New().String() + "/ops"
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	decodeBody(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["embedder"] != "hash" {
		t.Errorf("embedder = %v, want hash", body["embedder"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "GET", "/api/health", "")

	w := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "orgmem_test_http_requests_total") {
		t.Error("http request counter missing from /metrics")
	}
}

func TestMCPMount(t *testing.T) {
	srv := testServer(t)
	if w := do(t, srv, "POST", "/mcp", "{}"); w.Code != http.StatusNotFound {
		t.Errorf("unmounted /mcp status = %d, want 404", w.Code)
	}

	called := false
	srv = New(srv.engine, "v", WithMCP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))
	do(t, srv, "POST", "/mcp", "{}")
	if !called {
		t.Error("mcp handler not invoked")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{memory.NotFound("x"), http.StatusNotFound},
		{memory.DuplicateSymbol("x", nil), http.StatusConflict},
		{memory.Validationf("bad"), http.StatusBadRequest},
		{memory.Divergence("id", "gone"), http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestScopeParams(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/memory/stats/not-a-uuid/ops", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad tenant status = %d, want 400", w.Code)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["kind"] != string(memory.KindValidation) {
		t.Errorf("kind = %v", body["kind"])
	}
}
