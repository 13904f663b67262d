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

// Metrics stores Prometheus collectors used by pipeline workers and the ops API.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	batchesTotal         *prometheus.CounterVec
	chunksTotal          *prometheus.CounterVec
	workerInflight       *prometheus.GaugeVec
	ledgerCallsTotal     *prometheus.CounterVec
	ledgerCallDuration   *prometheus.HistogramVec
	ledgerRetriesTotal   *prometheus.CounterVec
	verificationsTotal   *prometheus.CounterVec
	namespacesSweptTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "certanchor",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "batches_total",
				Help:      "Total number of batch submissions grouped by final result.",
			},
			[]string{"result"},
		),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "chunks_total",
				Help:      "Total number of chunks processed grouped by terminal status.",
			},
			[]string{"status"},
		),
		workerInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "certanchor",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight worker operations grouped by pool.",
			},
			[]string{"pool"},
		),
		ledgerCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "ledger_calls_total",
				Help:      "Total number of remote ledger calls grouped by operation and result.",
			},
			[]string{"operation", "result"},
		),
		ledgerCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "certanchor",
				Name:      "ledger_call_duration_seconds",
				Help:      "Remote ledger call duration in seconds grouped by operation.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"operation"},
		),
		ledgerRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "ledger_retries_total",
				Help:      "Total number of remote ledger call retries grouped by operation.",
			},
			[]string{"operation"},
		),
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "verifications_total",
				Help:      "Total number of certificate resolutions grouped by outcome.",
			},
			[]string{"outcome"},
		),
		namespacesSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "certanchor",
				Name:      "namespaces_swept_total",
				Help:      "Total number of abandoned batch namespaces removed by the sweeper.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesTotal,
		m.chunksTotal,
		m.workerInflight,
		m.ledgerCallsTotal,
		m.ledgerCallDuration,
		m.ledgerRetriesTotal,
		m.verificationsTotal,
		m.namespacesSweptTotal,
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

func (m *Metrics) IncBatch(result string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) IncChunk(status string) {
	if m == nil {
		return
	}
	m.chunksTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncWorkerInFlight(pool string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(pool)).Inc()
}

func (m *Metrics) DecWorkerInFlight(pool string) {
	if m == nil {
		return
	}
	m.workerInflight.WithLabelValues(normalizeLabel(pool)).Dec()
}

// ObserveLedgerCall records one remote ledger call; a non-nil err counts as a failure.
func (m *Metrics) ObserveLedgerCall(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	seconds := time.Since(started).Seconds()
	if seconds < 0 {
		seconds = 0
	}
	op := normalizeLabel(operation)
	m.ledgerCallsTotal.WithLabelValues(op, result).Inc()
	m.ledgerCallDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) IncLedgerRetry(operation string) {
	if m == nil {
		return
	}
	m.ledgerRetriesTotal.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) IncVerification(outcome string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncNamespaceSwept() {
	if m == nil {
		return
	}
	m.namespacesSweptTotal.Inc()
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
