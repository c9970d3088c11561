package middleware

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

	"github.com/google/uuid"
)

func TestCorrelationID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var seen string

	handler := CorrelationID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "generated", incoming: ""},
		{name: "reused", incoming: "req-42", reuse: true},
		{name: "too long", incoming: strings.Repeat("x", maxCorrelationIDLength+1)},
		{name: "control characters", incoming: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(CorrelationIDHeader, tt.incoming)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get(CorrelationIDHeader); got != seen {
				t.Errorf("response header %q differs from context %q", got, seen)
			}

			if tt.reuse {
				if seen != tt.incoming {
					t.Errorf("expected %q to be reused, got %q", tt.incoming, seen)
				}

				return
			}

			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("expected a generated UUID, got %q", seen)
			}
		})
	}

	if got := GetCorrelationID(t.Context()); got != "unknown" {
		t.Errorf("expected unknown without middleware, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var logs bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	handler := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), WithCorrelationID(), WithRecovery(logger))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/stats", nil)
	req.Header.Set(CorrelationIDHeader, "panic-1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var problem map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}

	if problem["correlationId"] != "panic-1" {
		t.Errorf("expected correlation id in problem, got %v", problem["correlationId"])
	}

	if !strings.Contains(logs.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got %s", logs.String())
	}
}

type recordedRequest struct {
	method, route string
	status        int
}

type recordingObserver struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.requests = append(o.requests, recordedRequest{method: method, route: route, status: status})
}

func TestRequestLogger_ReportsMatchedRoute(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	observer := &recordingObserver{}
	handler := Apply(mux, WithCorrelationID(), WithRequestLogger(slog.New(slog.DiscardHandler), observer))

	for _, path := range []string{"/api/v1/jobs/123", "/ping", "/nowhere"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := []recordedRequest{
		{method: http.MethodGet, route: "GET /api/v1/jobs/{id}", status: http.StatusNotFound},
		{method: http.MethodGet, route: "GET /ping", status: http.StatusOK},
		{method: http.MethodGet, route: unmatchedRoute, status: http.StatusNotFound},
	}

	if len(observer.requests) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(observer.requests))
	}

	for i, w := range want {
		if observer.requests[i] != w {
			t.Errorf("observation %d: got %+v, want %+v", i, observer.requests[i], w)
		}
	}
}

type corsConfig struct {
	origins []string
}

func (c corsConfig) GetAllowedOrigins() []string { return c.origins }
func (c corsConfig) GetAllowedMethods() []string { return []string{"GET", "POST"} }
func (c corsConfig) GetAllowedHeaders() []string { return []string{"Content-Type", "X-Api-Key"} }
func (c corsConfig) GetMaxAge() int              { return 600 }

func TestCORS(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allowed origin", func(t *testing.T) {
		handler := CORS(corsConfig{origins: []string{"https://dash.example"}})(next)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://dash.example")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
			t.Errorf("unexpected allow-origin %q", got)
		}

		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
			t.Errorf("unexpected allow-methods %q", got)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		handler := CORS(corsConfig{origins: []string{"https://dash.example"}})(next)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no allow-origin, got %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		handler := CORS(corsConfig{origins: []string{"*"}})(next)

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
		req.Header.Set("Origin", "https://any.example")
		req.Header.Set("Access-Control-Request-Method", "POST")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}

		if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
			t.Errorf("unexpected max-age %q", got)
		}
	})
}

func TestApply_Order(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var order []string

	mark := func(name string) Option {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("first"), WithAuthentication(nil, nil), WithRateLimit(nil, nil), mark("second"))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := strings.Join(order, ","); got != "first,second,handler" {
		t.Errorf("unexpected order %s", got)
	}
}
