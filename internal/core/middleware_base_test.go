package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"crowdpark/internal/types"
)

type recordedRequest struct {
	method, endpoint, status string
}

type fakeMetrics struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeMetrics) RecordRequest(method, endpoint, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, endpoint, status})
}

func TestRecoverer_WritesStandardError(t *testing.T) {
	srv := newTestServer(t)
	h := RequestIDMiddleware(srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v (%s)", err, w.Body.String())
	}
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("unexpected code %q", body.Error.Code)
	}
	if body.Error.RequestID == "" {
		t.Error("expected request ID in panic response")
	}
}

func TestRequestLogger_RedactsAndScopesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var scoped *slog.Logger
	h := RequestIDMiddleware(RequestLogger(logger, []string{"x-api-key"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped = types.LoggerFromContext(r.Context(), nil)
		w.WriteHeader(http.StatusTeapot)
	})))

	r := httptest.NewRequest(http.MethodGet, "/v1/crowd/predict", nil)
	r.Header.Set(APIKeyHeader, "super-secret")
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set(RequestIDHeader, "req-42")
	h.ServeHTTP(httptest.NewRecorder(), r)

	out := buf.String()
	if strings.Contains(out, "super-secret") {
		t.Errorf("API key leaked into logs: %s", out)
	}
	for _, want := range []string{"[REDACTED]", "test-agent", `"status":418`, `"request_id":"req-42"`, `"level":"WARN"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
	if scoped == nil || scoped == logger {
		t.Error("expected a request-scoped logger in context")
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	metrics := &fakeMetrics{}
	srv := newTestServer(t, func(r chi.Router) {
		r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
	})
	srv.Metrics = metrics
	srv.MountRoutes()

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/items/42", nil))
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/path", nil))

	if len(metrics.requests) != 2 {
		t.Fatalf("expected 2 recorded requests, got %d", len(metrics.requests))
	}
	if got := metrics.requests[0]; got != (recordedRequest{"GET", "/v1/items/{id}", "202"}) {
		t.Errorf("unexpected first record %+v", got)
	}
	if got := metrics.requests[1]; got.endpoint != unmatchedRoute || got.status != "404" {
		t.Errorf("unexpected second record %+v", got)
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	srv := newTestServer(t)
	called := false
	h := srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("expected pass-through")
	}
}

func TestResponseCapture_DefaultStatus(t *testing.T) {
	rc := &responseCapture{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	_, _ = rc.Write([]byte("x"))
	rc.WriteHeader(http.StatusInternalServerError)
	if rc.statusCode != http.StatusOK {
		t.Errorf("first write should pin 200, got %d", rc.statusCode)
	}
}

func TestEscapeJSON(t *testing.T) {
	got := escapeJSON("a\"b\\c\nd\te")
	want := `a\"b\\c\nd\te`
	if got != want {
		t.Errorf("escapeJSON = %q, want %q", got, want)
	}
}
