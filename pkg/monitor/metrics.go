/*
Copyright © 2025 ALESSIO TONIOLO

metrics.go defines the Prometheus metric set and the HTTP middleware that
feeds the request counters. All metrics live in a private registry so the
exposition endpoint only carries what the backend owns.
*/
package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus collector set for the backend.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SystemCPUUsage    prometheus.Gauge
	SystemMemoryUsage prometheus.Gauge
	SystemDiskUsage   prometheus.Gauge

	ActiveSessions prometheus.Gauge

	AIRequestsTotal   *prometheus.CounterVec
	AIResponseTime    *prometheus.HistogramVec
	AITokensPerSecond *prometheus.GaugeVec
}

// NewMetrics builds the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		SystemCPUUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_cpu_usage_percent",
			Help: "System CPU usage percentage",
		}),
		SystemMemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_memory_usage_percent",
			Help: "System memory usage percentage",
		}),
		SystemDiskUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "system_disk_usage_percent",
			Help: "System disk usage percentage",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_sessions_total",
			Help: "Number of active user sessions",
		}),

		AIRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total AI model requests",
		}, []string{"model", "status"}),

		AIResponseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ai_response_time_seconds",
			Help:    "AI model response time",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model"}),

		AITokensPerSecond: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ai_tokens_per_second",
			Help: "AI model tokens per second",
		}, []string{"model"}),
	}
}

// Handler returns the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records count and duration for every routed request. The chi
// route pattern is used as the endpoint label so path parameters do not
// explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		start := time.Now()
		next.ServeHTTP(ww, r)
		duration := time.Since(start)

		endpoint := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(ww.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())
	})
}
