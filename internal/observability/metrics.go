package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Total number of model requests by operation",
		},
		[]string{"operation"},
	)
	ModelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_request_duration_seconds",
			Help:    "Model request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
	ModelRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_retries_total",
			Help: "Total number of model call retries by reason",
		},
		[]string{"reason"},
	)

	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_invocations_total",
			Help: "Total number of tool invocations by worker and tool",
		},
		[]string{"worker", "tool", "outcome"},
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of analysis jobs enqueued",
		},
	)
	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently running",
		},
	)
	JobsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_finalized_total",
			Help: "Total number of jobs finalized by terminal status",
		},
		[]string{"status"},
	)
	WorkersFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workers_finished_total",
			Help: "Total number of specialist worker runs by worker and outcome",
		},
		[]string{"worker", "outcome"},
	)
	ChartsCommitted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "charts_committed_per_job",
			Help:    "Number of charts committed per chart-worker run",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8},
		},
	)
	DLQMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of job messages moved to the dead-letter topic",
		},
	)
)

var initMetricsOnce sync.Once

// InitMetrics registers all metrics with the default registry. Safe to call
// from both processes.
func InitMetrics() {
	initMetricsOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal, HTTPRequestDuration,
			ModelRequestsTotal, ModelRequestDuration, ModelRetriesTotal,
			ToolInvocationsTotal,
			JobsEnqueuedTotal, JobsRunning, JobsFinalizedTotal,
			WorkersFinishedTotal, ChartsCommitted, DLQMessagesTotal,
		)
	})
}

// HTTPMetricsMiddleware records request counts and durations per route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
