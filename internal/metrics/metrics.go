// Package metrics exposes the service's Prometheus collectors.
//
// Collectors are registered on a private registry so tests can create as many
// Metrics values as they like. Handler serves that registry together with the Go
// runtime and process collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damsafe-io/damsafe/internal/cache"
	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/jobs"
)

const namespace = "damsafe"

var (
	_ jobs.SweepObserver     = (*Metrics)(nil)
	_ collection.RunObserver = (*Metrics)(nil)
	_ cache.FailureObserver  = (*Metrics)(nil)
)

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	instrumentOutcomes *prometheus.CounterVec
	stalledJobsTotal   prometheus.Counter
	jobsByStatus       *prometheus.GaugeVec
	invalidationErrors *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "runs_total",
			Help:      "Collection runs by trigger and result (ok, aborted).",
		}, []string{"trigger", "result"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a collection run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"trigger"}),
		instrumentOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "instrument_outcomes_total",
			Help:      "Per-instrument results of collection runs.",
		}, []string{"outcome"}),
		stalledJobsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "stalled_total",
			Help:      "Jobs failed by the stall sweep.",
		}),
		jobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "by_status",
			Help:      "Collection jobs per status at the last sweep.",
		}, []string{"status"}),
		invalidationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidation_errors_total",
			Help:      "Failed namespace invalidations. Entries of a failed namespace live until their TTL.",
		}, []string{"namespace"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "instrument_events_total",
			Help:      "Instrument events consumed, by result (triggered, ignored, invalid).",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records a finished collection run.
func (m *Metrics) ObserveRun(report *collection.BatchReport, err error) {
	trigger := string(report.Trigger.Reason)

	result := "ok"
	if err != nil {
		result = "aborted"
	}

	m.runsTotal.WithLabelValues(trigger, result).Inc()

	if !report.FinishedAt.IsZero() {
		m.runDuration.WithLabelValues(trigger).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}

	for _, res := range report.Results {
		m.instrumentOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}
}

// ObserveStalled adds n to the stalled jobs counter.
func (m *Metrics) ObserveStalled(n int) {
	m.stalledJobsTotal.Add(float64(n))
}

// ObserveStatusCounts sets the jobs-by-status gauge.
func (m *Metrics) ObserveStatusCounts(counts map[jobs.Status]int) {
	for _, status := range jobs.Statuses() {
		m.jobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// ObserveInvalidationFailure counts a failed namespace invalidation.
func (m *Metrics) ObserveInvalidationFailure(ns string) {
	m.invalidationErrors.WithLabelValues(ns).Inc()
}

// ObserveEvent counts a consumed instrument event.
func (m *Metrics) ObserveEvent(result string) {
	m.eventsTotal.WithLabelValues(result).Inc()
}

// ObserveRequest records one HTTP request. route is the matched mux pattern, not the
// raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
