package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/damsafe-io/damsafe/internal/api/middleware"
	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/jobs"
	"github.com/damsafe-io/damsafe/internal/readings"
	"github.com/damsafe-io/damsafe/internal/storage"
	"github.com/damsafe-io/damsafe/internal/telemetry"
)

var (
	adminKey  = storage.APIKeyPrefix + strings.Repeat("1", 64)
	viewerKey = storage.APIKeyPrefix + strings.Repeat("2", 64)
)

type keyMap map[string]*storage.APIKey

func (k keyMap) FindByKey(key string) (*storage.APIKey, bool) {
	v, ok := k[key]

	return v, ok
}

type fakeCollector struct {
	mu        sync.Mutex
	runErr    error
	submitErr error
	triggers  []collection.Trigger
	runCtxErr []error
	submitted []string
}

func (f *fakeCollector) RunCollection(ctx context.Context, trigger collection.Trigger) (*collection.BatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.triggers = append(f.triggers, trigger)
	f.runCtxErr = append(f.runCtxErr, ctx.Err())

	return &collection.BatchReport{
		Trigger: trigger,
		Date:    time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Results: []collection.InstrumentResult{{InstrumentID: "inst-1", Outcome: collection.OutcomeCompleted}},
	}, f.runErr
}

func (f *fakeCollector) Submit(_ context.Context, instrumentID string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, instrumentID)

	if f.submitErr != nil {
		return nil, f.submitErr
	}

	return &jobs.Job{ID: uuid.New(), InstrumentID: instrumentID, Status: jobs.StatusQueued}, nil
}

type fakeJobs struct {
	jobs   map[uuid.UUID]*jobs.Job
	counts map[jobs.Status]int
}

func (f *fakeJobs) Get(_ context.Context, id uuid.UUID) (*jobs.Job, error) {
	if job, ok := f.jobs[id]; ok {
		return job, nil
	}

	return nil, jobs.ErrNotFound
}

func (f *fakeJobs) CountByStatus(context.Context) (map[jobs.Status]int, error) {
	return f.counts, nil
}

type fakeReadings struct {
	lastQuery readings.Query
	latest    map[string]*readings.Reading
}

func (f *fakeReadings) ListByDam(_ context.Context, q readings.Query) ([]*readings.Reading, error) {
	f.lastQuery = q

	if _, err := q.Normalize(); err != nil {
		return nil, err
	}

	return []*readings.Reading{{ID: 1, DamID: q.DamID, InstrumentID: "inst-1"}}, nil
}

func (f *fakeReadings) Latest(_ context.Context, instrumentID string) (*readings.Reading, error) {
	if r, ok := f.latest[instrumentID]; ok {
		return r, nil
	}

	return nil, readings.ErrNotFound
}

type testServer struct {
	handler   http.Handler
	collector *fakeCollector
	jobs      *fakeJobs
	readings  *fakeReadings
	ready     *error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	var readyErr error

	ts := &testServer{
		collector: &fakeCollector{},
		jobs: &fakeJobs{
			jobs:   map[uuid.UUID]*jobs.Job{},
			counts: map[jobs.Status]int{jobs.StatusQueued: 2, jobs.StatusFailed: 1},
		},
		readings: &fakeReadings{latest: map[string]*readings.Reading{
			"inst-1": {ID: 7, InstrumentID: "inst-1", DamID: "dam-1"},
		}},
		ready: &readyErr,
	}

	keys := keyMap{
		adminKey:  {ID: "ops", Roles: []string{middleware.RoleAdmin}, Active: true},
		viewerKey: {ID: "dash", Roles: []string{"viewer"}, Active: true},
	}

	srv := NewServer(LoadServerConfig(), Dependencies{
		Collector: ts.collector,
		Jobs:      ts.jobs,
		Readings:  ts.readings,
		KeyStore:  keys,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("damsafe_collection_runs_total 1\n"))
		}),
		Readiness: []ReadinessCheck{{Name: "database", Check: func(context.Context) error { return readyErr }}},
		Logger:    slog.New(slog.DiscardHandler),
	})

	ts.handler = srv.Handler()

	return ts
}

func (ts *testServer) do(method, path, key, contentType, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())

	return body
}

func TestPublicEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/ping", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = ts.do(http.MethodGet, "/health", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Version, rec.Header().Get("X-Damsafe-Version"))
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = ts.do(http.MethodGet, "/metrics", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "damsafe_collection_runs_total")

	rec = ts.do(http.MethodGet, "/ready", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	*ts.ready = errors.New("connection refused")

	rec = ts.do(http.MethodGet, "/ready", "", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "database unavailable", rec.Body.String())
}

func TestAuthentication(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		status int
	}{
		{name: "missing key", method: http.MethodGet, path: "/api/v1/jobs/stats", status: http.StatusUnauthorized},
		{name: "viewer reads stats", method: http.MethodGet, path: "/api/v1/jobs/stats", key: viewerKey, status: http.StatusOK},
		{
			name:   "viewer cannot trigger a run",
			method: http.MethodPost,
			path:   "/api/v1/admin/collection/run",
			key:    viewerKey,
			status: http.StatusForbidden,
		},
		{name: "unknown route", method: http.MethodGet, path: "/api/v1/nope", key: viewerKey, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.key, "", "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, ts.collector.triggers, "forbidden requests must not reach the collector")
}

func TestRunCollection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("accepted", func(t *testing.T) {
		ts := newTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/admin/collection/run", adminKey, "", "")
		require.Equal(t, http.StatusAccepted, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "accepted", body["status"])
		assert.Equal(t, "manual", body["trigger"])
		assert.Equal(t, "2026-03-14", body["date"])
		assert.Equal(t, rec.Header().Get(middleware.CorrelationIDHeader), body["correlationId"])
		assert.NotContains(t, body, "results")

		require.Len(t, ts.collector.triggers, 1)
		assert.Equal(t, collection.ReasonManual, ts.collector.triggers[0].Reason)
		assert.Empty(t, ts.collector.triggers[0].InstrumentID)
	})

	t.Run("authentication failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.collector.runErr = fmt.Errorf("collection aborted: %w", &telemetry.ExternalServiceError{
			Op:         "authenticate",
			Kind:       telemetry.ErrAuthentication,
			StatusCode: http.StatusUnauthorized,
			Err:        errors.New("invalid credentials"),
		})

		rec := ts.do(http.MethodPost, "/api/v1/admin/collection/run", adminKey, "", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))
	})

	t.Run("instrument listing failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.collector.runErr = errors.New("list eligible instruments: connection reset")

		rec := ts.do(http.MethodPost, "/api/v1/admin/collection/run", adminKey, "", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})

	t.Run("client disconnect does not cancel the run", func(t *testing.T) {
		ts := newTestServer(t)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/collection/run", nil).WithContext(ctx)
		req.Header.Set("X-Api-Key", adminKey)

		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, ts.collector.runCtxErr, 1)
		assert.NoError(t, ts.collector.runCtxErr[0])
	})
}

func TestSubmitJob(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name        string
		contentType string
		body        string
		submitErr   error
		status      int
		submitted   string
	}{
		{
			name:        "created",
			contentType: "application/json; charset=utf-8",
			body:        `{"instrumentId":" inst-1 "}`,
			status:      http.StatusCreated,
			submitted:   "inst-1",
		},
		{
			name:        "active job exists",
			contentType: "application/json",
			body:        `{"instrumentId":"inst-1"}`,
			submitErr:   jobs.ErrConflict,
			status:      http.StatusConflict,
			submitted:   "inst-1",
		},
		{
			name:        "unknown instrument",
			contentType: "application/json",
			body:        `{"instrumentId":"ghost"}`,
			submitErr:   collection.ErrInstrumentNotFound,
			status:      http.StatusNotFound,
			submitted:   "ghost",
		},
		{name: "blank id", contentType: "application/json", body: `{"instrumentId":"  "}`, status: http.StatusBadRequest},
		{name: "unknown field", contentType: "application/json", body: `{"id":"inst-1"}`, status: http.StatusBadRequest},
		{name: "malformed", contentType: "application/json", body: `{`, status: http.StatusBadRequest},
		{name: "wrong media type", contentType: "text/plain", body: `inst-1`, status: http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.collector.submitErr = tt.submitErr

			rec := ts.do(http.MethodPost, "/api/v1/jobs", adminKey, tt.contentType, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.submitted != "" {
				assert.Equal(t, []string{tt.submitted}, ts.collector.submitted)
			} else {
				assert.Empty(t, ts.collector.submitted)
			}

			if tt.status == http.StatusCreated {
				body := decodeBody(t, rec)
				assert.Equal(t, "inst-1", body["instrumentId"])
				assert.Equal(t, string(jobs.StatusQueued), body["status"])
				assert.Equal(t, "/api/v1/jobs/"+body["id"].(string), rec.Header().Get("Location"))
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	id := uuid.New()
	ts.jobs.jobs[id] = &jobs.Job{ID: id, InstrumentID: "inst-1", Status: jobs.StatusFailed, Reason: jobs.StalledReason}

	rec := ts.do(http.MethodGet, "/api/v1/jobs/"+id.String(), viewerKey, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "FAILED", body["status"])
	assert.Equal(t, jobs.StalledReason, body["reason"])

	rec = ts.do(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), viewerKey, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/jobs/not-a-uuid", viewerKey, "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobStats(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/jobs/stats", viewerKey, "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats JobStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[jobs.Status]int{
		jobs.StatusQueued:     2,
		jobs.StatusProcessing: 0,
		jobs.StatusCompleted:  0,
		jobs.StatusFailed:     1,
	}, stats.Counts)
}

func TestListReadings(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/dams/dam-1/readings?from=2026-03-01&to=2026-03-14&limit=10&offset=5",
		viewerKey, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page ReadingsPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))

	assert.Equal(t, "dam-1", page.DamID)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 5, page.Offset)
	assert.Len(t, page.Readings, 1)

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ts.readings.lastQuery.From)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), ts.readings.lastQuery.To)

	for _, query := range []string{"from=03/01/2026", "limit=-1", "offset=x", "from=2026-03-14&to=2026-03-01"} {
		t.Run(query, func(t *testing.T) {
			rec := ts.do(http.MethodGet, "/api/v1/dams/dam-1/readings?"+query, viewerKey, "", "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLatestReading(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/instruments/inst-1/readings/latest", viewerKey, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 7, decodeBody(t, rec)["id"], 0)

	rec = ts.do(http.MethodGet, "/api/v1/instruments/ghost/readings/latest", viewerKey, "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AuthenticationDisabled(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	collector := &fakeCollector{}
	srv := NewServer(LoadServerConfig(), Dependencies{
		Collector: collector,
		Jobs:      &fakeJobs{},
		Readings:  &fakeReadings{},
		Logger:    slog.New(slog.DiscardHandler),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/collection/run", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, collector.triggers, 1)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics is only routed when a handler is configured")
}
