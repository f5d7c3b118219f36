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

const metricsNamespace = "broadcast_engine"

// Completion sources for broadcasts_completed_total.
const (
	CompletionSourceWorker      = "worker"
	CompletionSourceCoordinator = "coordinator"
)

// Metrics stores Prometheus collectors used by the API, scheduler and worker processes.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	broadcastsStartedTotal   prometheus.Counter
	broadcastsResumedTotal   prometheus.Counter
	broadcastsCompletedTotal *prometheus.CounterVec
	leaseClaimsLostTotal     prometheus.Counter
	invocationsFailedTotal   *prometheus.CounterVec
	recipientsProcessedTotal *prometheus.CounterVec
	recipientSendDuration    prometheus.Histogram
	dispatchInflight         prometheus.Gauge
	jobRunsTotal             *prometheus.CounterVec
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
		broadcastsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "broadcasts_started_total",
				Help:      "Total number of due broadcasts handed to the dispatch worker.",
			},
		),
		broadcastsResumedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "broadcasts_resumed_total",
				Help:      "Total number of stalled broadcasts re-armed and handed to the dispatch worker.",
			},
		),
		broadcastsCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "broadcasts_completed_total",
				Help:      "Total number of broadcasts marked completed grouped by the component that completed them.",
			},
			[]string{"source"},
		),
		leaseClaimsLostTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lease_claims_lost_total",
				Help:      "Total number of lease claims lost to a concurrent coordinator run.",
			},
		),
		invocationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_invocations_failed_total",
				Help:      "Total number of failed dispatch worker invocations grouped by action.",
			},
			[]string{"action"},
		),
		recipientsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "recipients_processed_total",
				Help:      "Total number of recipients moved out of pending grouped by final status.",
			},
			[]string{"status"},
		),
		recipientSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "recipient_send_duration_seconds",
				Help:      "WhatsApp provider send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_inflight",
				Help:      "Current number of dispatch worker batches in progress.",
			},
		),
		jobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "job_runs_total",
				Help:      "Total number of periodic job runs grouped by job and result.",
			},
			[]string{"job", "result"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.broadcastsStartedTotal,
		m.broadcastsResumedTotal,
		m.broadcastsCompletedTotal,
		m.leaseClaimsLostTotal,
		m.invocationsFailedTotal,
		m.recipientsProcessedTotal,
		m.recipientSendDuration,
		m.dispatchInflight,
		m.jobRunsTotal,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBroadcastStarted() {
	if m == nil {
		return
	}
	m.broadcastsStartedTotal.Inc()
}

func (m *Metrics) IncBroadcastResumed() {
	if m == nil {
		return
	}
	m.broadcastsResumedTotal.Inc()
}

func (m *Metrics) IncBroadcastCompleted(source string) {
	if m == nil {
		return
	}
	m.broadcastsCompletedTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncLeaseClaimLost() {
	if m == nil {
		return
	}
	m.leaseClaimsLostTotal.Inc()
}

func (m *Metrics) IncInvocationFailed(action string) {
	if m == nil {
		return
	}
	m.invocationsFailedTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) IncRecipientProcessed(status string) {
	if m == nil {
		return
	}
	m.recipientsProcessedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveRecipientSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.recipientSendDuration.Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncJobRun(job string, result string) {
	if m == nil {
		return
	}
	m.jobRunsTotal.WithLabelValues(normalizeLabel(job), normalizeLabel(result)).Inc()
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
