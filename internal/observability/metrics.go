package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arco_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arco_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arco_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Audit metrics
var (
	AuditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arco_audit_events_total",
			Help: "Audit events by severity and delivery outcome.",
		},
		[]string{"severity", "outcome"},
	)

	AuditSweepDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arco_audit_sweep_deleted_total",
		Help: "Audit events removed by the retention sweeper.",
	})

	AuditSweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arco_audit_sweep_failures_total",
		Help: "Retention sweeps that failed.",
	})

	AuditSweepLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arco_audit_sweep_last_success_timestamp_seconds",
		Help: "Unix time of the last successful retention sweep.",
	})
)

// Identity provider metrics
var (
	IdentityRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arco_identity_requests_total",
			Help: "Identity provider calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
)

var registerOnce sync.Once

// InitMetrics registers every collector in the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuditEventsTotal, AuditSweepDeletedTotal, AuditSweepFailuresTotal, AuditSweepLastSuccess,
			IdentityRequestsTotal,
		)
	})
}

// MetricsHandler serves the Prometheus exposition format
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight requests. The route label is the
// chi route pattern so path parameters do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
