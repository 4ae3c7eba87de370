package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	claimsTotal       *prometheus.CounterVec
	conflictsTotal    *prometheus.CounterVec
	leaseReclaims     prometheus.Counter
	ledgerAdjustTotal *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "approvals_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_claims_total",
		Help: "Review lease claim attempts by outcome.",
	}, []string{"outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_conflicts_total",
		Help: "Optimistic-concurrency conflicts by operation.",
	}, []string{"op"})
	reclaims := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "approvals_lease_reclaims_total",
		Help: "Stale review leases reclaimed by the sweep.",
	})
	adjusts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "approvals_ledger_adjust_total",
		Help: "Ledger adjustments by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, claims, conflicts, reclaims, adjusts)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		claimsTotal:       claims,
		conflictsTotal:    conflicts,
		leaseReclaims:     reclaims,
		ledgerAdjustTotal: adjusts,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// CountClaim records a claim attempt outcome ("ok", "conflict", "error").
func (m *Metrics) CountClaim(outcome string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(outcome).Inc()
}

// CountConflict records an optimistic conflict for an operation.
func (m *Metrics) CountConflict(op string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(op).Inc()
}

// CountReclaims records n leases reclaimed by one sweep.
func (m *Metrics) CountReclaims(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.leaseReclaims.Add(float64(n))
}

// CountLedgerAdjust records a ledger adjustment outcome.
func (m *Metrics) CountLedgerAdjust(outcome string) {
	if m == nil {
		return
	}
	m.ledgerAdjustTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
