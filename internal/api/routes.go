package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/damsafe-io/damsafe/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedRouteParts = 2
	serviceName        = "damsafe"
)

// Version is reported by /health and the X-Damsafe-Version header. It is set at
// build time with -ldflags "-X github.com/damsafe-io/damsafe/internal/api.Version=...".
var Version = "dev" //nolint: gochecknoglobals

type (
	// HealthStatus is the /health response.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route pairs a ServeMux pattern with its handler.
	Route struct {
		Pattern string
		Handler http.Handler
	}
)

func (s *Server) setupRoutes(mux *http.ServeMux) {
	public := []Route{
		{"GET /ping", http.HandlerFunc(s.handlePing)},
		{"GET /ready", http.HandlerFunc(s.handleReady)},
		{"GET /health", http.HandlerFunc(s.handleHealth)},
		{"/", http.HandlerFunc(s.handleNotFound)},
	}

	if s.deps.MetricsHandler != nil {
		public = append(public, Route{"GET /metrics", s.deps.MetricsHandler})
	}

	s.registerPublicRoutes(mux, public...)

	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireRole(middleware.RoleAdmin, s.logger, h)
	}

	mux.Handle("POST /api/v1/admin/collection/run", admin(s.handleRunCollection))
	mux.Handle("POST /api/v1/jobs", admin(s.handleSubmitJob))
	mux.HandleFunc("GET /api/v1/jobs/stats", s.handleJobStats)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/v1/dams/{damId}/readings", s.handleListReadings)
	mux.HandleFunc("GET /api/v1/instruments/{instrumentId}/readings/latest", s.handleLatestReading)
}

// registerPublicRoutes registers routes that bypass authentication. Only health
// and metrics endpoints belong here.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Pattern, route.Handler)

		path := route.Pattern
		// "GET /ping" is matched against r.URL.Path "/ping".
		if parts := strings.Fields(path); len(parts) == expectedRouteParts {
			path = parts[1]
		}

		if path == "" {
			s.logger.Warn("Malformed route pattern ignored", slog.String("pattern", route.Pattern))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady answers 200 when every readiness check passes within two seconds
// and 503 naming the first failing dependency otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	for _, check := range s.deps.Readiness {
		if err := check.Check(ctx); err != nil {
			s.logger.Error("Readiness check failed",
				slog.String("dependency", check.Name),
				slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
				slog.String("error", err.Error()))

			s.writeText(w, r, http.StatusServiceUnavailable, check.Name+" unavailable")

			return
		}
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Damsafe-Version", Version)

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     Version,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()))
	}
}

// writeJSON marshals before writing headers so encoding failures still produce a
// problem response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()))
	}
}

// hasJSONContentType accepts "application/json" with optional parameters.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
