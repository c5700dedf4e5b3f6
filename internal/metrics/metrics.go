// Package metrics provides Prometheus metrics for the import pipeline, the
// schema manager and the HTTP surface.
package metrics

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/JonMunkholm/tricyclecrm/internal/importer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tricyclecrm"

// Import outcomes.
const (
	OutcomeComplete   = "complete"
	OutcomeDuplicates = "duplicates"
	OutcomeFailed     = "failed"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	importsTotal        *prometheus.CounterVec
	importRowsTotal     *prometheus.CounterVec
	parseDuration       *prometheus.HistogramVec
	parseErrors         *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	schemaSyncTotal     *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them, plus the Go runtime and process
// collectors, on a new registry.
func New() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initMetrics()

	if err := m.registry.Register(m); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if err := m.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := m.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.importsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Import submissions by entity and outcome",
		},
		[]string{"entity", "outcome"}, // outcome: complete, duplicates, failed
	)

	m.importRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Imported rows by entity and result bucket",
		},
		[]string{"entity", "bucket"}, // bucket: created, updated, skipped, errored, not_reported
	)

	m.parseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_parse_duration_seconds",
			Help:      "Time taken to parse an uploaded spreadsheet",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"entity"},
	)

	m.parseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_parse_errors_total",
			Help:      "Spreadsheets rejected during parsing, by support code",
		},
		[]string{"entity", "code"},
	)

	m.activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "import_sessions_active",
			Help:      "Import sessions currently held in memory",
		},
	)

	m.schemaSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_sync_total",
			Help:      "Schema sync attempts by executor mode and status",
		},
		[]string{"mode", "status"},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status_code"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

func (m *Metrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.importsTotal,
		m.importRowsTotal,
		m.parseDuration,
		m.parseErrors,
		m.activeSessions,
		m.schemaSyncTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RecordParse records a parse attempt. code is the support code of a rejected
// file, empty on success.
func (m *Metrics) RecordParse(entity string, d time.Duration, code string) {
	m.parseDuration.WithLabelValues(entity).Observe(d.Seconds())
	if code != "" {
		m.parseErrors.WithLabelValues(entity, code).Inc()
	}
}

// RecordImport records the state a submission or resolution ended in.
func (m *Metrics) RecordImport(entity string, v importer.View) {
	switch {
	case v.State == importer.StateComplete && v.Summary != nil:
		m.importsTotal.WithLabelValues(entity, OutcomeComplete).Inc()
		s := v.Summary
		m.importRowsTotal.WithLabelValues(entity, "created").Add(float64(s.Created))
		m.importRowsTotal.WithLabelValues(entity, "updated").Add(float64(s.Updated))
		m.importRowsTotal.WithLabelValues(entity, "skipped").Add(float64(s.Skipped))
		m.importRowsTotal.WithLabelValues(entity, "errored").Add(float64(s.Errored))
		m.importRowsTotal.WithLabelValues(entity, "not_reported").Add(float64(s.NotReported))
	case v.State == importer.StateDuplicates && v.Error == "":
		m.importsTotal.WithLabelValues(entity, OutcomeDuplicates).Inc()
	default:
		m.importsTotal.WithLabelValues(entity, OutcomeFailed).Inc()
	}
}

// SetActiveSessions sets the in-memory session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordSchemaSync records a schema sync attempt.
func (m *Metrics) RecordSchemaSync(mode string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.schemaSyncTotal.WithLabelValues(mode, status).Inc()
}

// Middleware records request count and duration by chi route pattern, which
// keeps label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
