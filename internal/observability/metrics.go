package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "invoice_importer"

// Metrics stores Prometheus collectors used by API and worker flows.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	rowsProcessedTotal     *prometheus.CounterVec
	rowRetriesTotal        prometheus.Counter
	batchRunsTotal         *prometheus.CounterVec
	batchRunDuration       prometheus.Histogram
	batchRunsInflight      prometheus.Gauge
	jobRedeliveriesTotal   prometheus.Counter
	jobsDeadLetteredTotal  prometheus.Counter
	notificationsSentTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		rowsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rows_processed_total",
				Help:      "Total number of import rows processed grouped by outcome.",
			},
			[]string{"outcome"},
		),
		rowRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "row_retries_total",
				Help:      "Total number of row transactions retried after a transient store error.",
			},
		),
		batchRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batch_runs_total",
				Help:      "Total number of batch runs grouped by result.",
			},
			[]string{"result"},
		),
		batchRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "batch_run_duration_seconds",
				Help:      "Wall time of a single batch run in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
			},
		),
		batchRunsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "batch_runs_inflight",
				Help:      "Current number of batch runs in progress.",
			},
		),
		jobRedeliveriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_redeliveries_total",
				Help:      "Total number of import jobs scheduled for another delivery.",
			},
		),
		jobsDeadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "jobs_dead_lettered_total",
				Help:      "Total number of import jobs moved to the dead-letter queue.",
			},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "completion_notifications_total",
				Help:      "Total number of batch completion notifications grouped by result.",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.rowsProcessedTotal,
		m.rowRetriesTotal,
		m.batchRunsTotal,
		m.batchRunDuration,
		m.batchRunsInflight,
		m.jobRedeliveriesTotal,
		m.jobsDeadLetteredTotal,
		m.notificationsSentTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRowProcessed(outcome string) {
	if m == nil {
		return
	}
	m.rowsProcessedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRowRetry() {
	if m == nil {
		return
	}
	m.rowRetriesTotal.Inc()
}

func (m *Metrics) IncBatchRun(result string) {
	if m == nil {
		return
	}
	m.batchRunsTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveBatchRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.batchRunDuration.Observe(seconds)
}

func (m *Metrics) IncBatchRunsInFlight() {
	if m == nil {
		return
	}
	m.batchRunsInflight.Inc()
}

func (m *Metrics) DecBatchRunsInFlight() {
	if m == nil {
		return
	}
	m.batchRunsInflight.Dec()
}

func (m *Metrics) IncJobRedelivery() {
	if m == nil {
		return
	}
	m.jobRedeliveriesTotal.Inc()
}

func (m *Metrics) IncJobDeadLettered() {
	if m == nil {
		return
	}
	m.jobsDeadLetteredTotal.Inc()
}

func (m *Metrics) IncNotification(result string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
