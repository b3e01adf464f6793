package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

// Metrics holds the prometheus collectors of the service. Each instance owns
// its registry supaya gampang ditest.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	started       prometheus.Counter
	finished      *prometheus.CounterVec
	running       prometheus.Gauge
	skipped       *prometheus.CounterVec
	retries       prometheus.Counter
	wsConnections prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "analyses_started_total",
			Help: "Analysis runs that claimed their job.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "analyses_finished_total",
			Help: "Analysis runs by terminal status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "analyses_running",
			Help: "Analysis runs in progress.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "documents_skipped_total",
			Help: "Documents skipped by the phase that failed.",
		}, []string{"phase"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ai_retries_total",
			Help: "Retries of transient AI failures.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open websocket connections.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.started, m.finished, m.running, m.skipped, m.retries, m.wsConnections)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware tracks request count and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) AnalysisStarted() {
	m.started.Inc()
	m.running.Inc()
}

func (m *Metrics) AnalysisFinished(status domain.Status) {
	m.finished.WithLabelValues(string(status)).Inc()
	m.running.Dec()
}

func (m *Metrics) DocumentSkipped(phase string) {
	m.skipped.WithLabelValues(phase).Inc()
}

// Retry has the shape of the invoker's OnRetry hook.
func (m *Metrics) Retry(int, time.Duration, error) {
	m.retries.Inc()
}

// WebsocketGauge is handed to the realtime hub.
func (m *Metrics) WebsocketGauge() prometheus.Gauge {
	return m.wsConnections
}
