package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/damsafe-io/damsafe/internal/api/middleware"
	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/jobs"
	"github.com/damsafe-io/damsafe/internal/readings"
	"github.com/damsafe-io/damsafe/internal/telemetry"
)

const dayLayout = "2006-01-02"

type (
	// RunAccepted acknowledges a manual collection run. It deliberately carries no
	// per-instrument results.
	RunAccepted struct {
		Status        string `json:"status"`
		Trigger       string `json:"trigger"`
		Date          string `json:"date"`
		CorrelationID string `json:"correlationId"`
	}

	// SubmitJobRequest is the POST /api/v1/jobs body.
	SubmitJobRequest struct {
		InstrumentID string `json:"instrumentId"`
	}

	// JobStats is the GET /api/v1/jobs/stats response.
	JobStats struct {
		Counts map[jobs.Status]int `json:"counts"`
		Total  int                 `json:"total"`
	}

	// ReadingsPage is the GET /api/v1/dams/{damId}/readings response.
	ReadingsPage struct {
		DamID    string              `json:"damId"`
		Readings []*readings.Reading `json:"readings"`
		Limit    int                 `json:"limit"`
		Offset   int                 `json:"offset"`
	}
)

// handleRunCollection runs the cron logic synchronously on the request goroutine.
// A client disconnect does not cut the batch short.
func (s *Server) handleRunCollection(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())
	ctx := context.WithoutCancel(r.Context())

	report, err := s.deps.Collector.RunCollection(ctx, collection.Trigger{Reason: collection.ReasonManual})
	if err != nil {
		s.logger.Error("Manual collection run aborted",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()))

		var extErr *telemetry.ExternalServiceError
		if errors.As(err, &extErr) || errors.Is(err, telemetry.ErrAuthentication) {
			WriteErrorResponse(w, r, s.logger, BadGateway("Telemetry provider rejected the collection run"))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError("Collection run could not start"))

		return
	}

	s.logger.Info("Manual collection run finished",
		slog.String("correlation_id", correlationID),
		slog.Int("instruments", len(report.Results)),
		slog.Int("failed", len(report.Failed())))

	s.writeJSON(w, r, http.StatusAccepted, RunAccepted{
		Status:        "accepted",
		Trigger:       string(collection.ReasonManual),
		Date:          report.Date.Format(dayLayout),
		CorrelationID: correlationID,
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req SubmitJobRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Malformed request body: "+err.Error()))

		return
	}

	req.InstrumentID = strings.TrimSpace(req.InstrumentID)
	if req.InstrumentID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("instrumentId is required"))

		return
	}

	job, err := s.deps.Collector.Submit(r.Context(), req.InstrumentID)

	switch {
	case err == nil:
		w.Header().Set("Location", "/api/v1/jobs/"+job.ID.String())
		s.writeJSON(w, r, http.StatusCreated, job)
	case errors.Is(err, jobs.ErrConflict):
		WriteErrorResponse(w, r, s.logger,
			Conflict(fmt.Sprintf("Instrument %s already has an active collection job", req.InstrumentID)))
	case errors.Is(err, collection.ErrInstrumentNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound(fmt.Sprintf("Instrument %s not found", req.InstrumentID)))
	default:
		s.internalError(w, r, "submit job", err)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Job id must be a UUID"))

		return
	}

	job, err := s.deps.Jobs.Get(r.Context(), id)

	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, job)
	case errors.Is(err, jobs.ErrNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound("Collection job not found"))
	default:
		s.internalError(w, r, "get job", err)
	}
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Jobs.CountByStatus(r.Context())
	if err != nil {
		s.internalError(w, r, "count jobs", err)

		return
	}

	stats := JobStats{Counts: make(map[jobs.Status]int, len(jobs.Statuses()))}
	for _, status := range jobs.Statuses() {
		stats.Counts[status] = counts[status]
		stats.Total += counts[status]
	}

	s.writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	q, err := parseReadingsQuery(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	list, err := s.deps.Readings.ListByDam(r.Context(), q)
	if err != nil {
		if errors.Is(err, readings.ErrInvalidQuery) {
			WriteErrorResponse(w, r, s.logger, BadRequest("from must not be after to"))

			return
		}

		s.internalError(w, r, "list readings", err)

		return
	}

	q, _ = q.Normalize()

	s.writeJSON(w, r, http.StatusOK, ReadingsPage{
		DamID:    q.DamID,
		Readings: list,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
}

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	reading, err := s.deps.Readings.Latest(r.Context(), r.PathValue("instrumentId"))

	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, reading)
	case errors.Is(err, readings.ErrNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound("No reading for instrument"))
	default:
		s.internalError(w, r, "latest reading", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("Request failed",
		slog.String("operation", op),
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("error", err.Error()))

	WriteErrorResponse(w, r, s.logger, InternalServerError("An internal error occurred"))
}

func parseReadingsQuery(r *http.Request) (readings.Query, error) {
	values := r.URL.Query()
	q := readings.Query{DamID: r.PathValue("damId")}

	var err error

	if q.From, err = parseDay(values.Get("from")); err != nil {
		return q, fmt.Errorf("from: %w", err)
	}

	if q.To, err = parseDay(values.Get("to")); err != nil {
		return q, fmt.Errorf("to: %w", err)
	}

	if q.Limit, err = parseNonNegative(values.Get("limit")); err != nil {
		return q, fmt.Errorf("limit: %w", err)
	}

	if q.Offset, err = parseNonNegative(values.Get("offset")); err != nil {
		return q, fmt.Errorf("offset: %w", err)
	}

	return q, nil
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(dayLayout, v)
	if err != nil {
		return time.Time{}, errors.New("expected YYYY-MM-DD")
	}

	return t, nil
}

func parseNonNegative(v string) (int, error) {
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("expected a non-negative integer")
	}

	return n, nil
}
