package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the billing service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	attemptsTotal   *prometheus.CounterVec
	discountTotal   *prometheus.CounterVec
	jobsTotal       *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payment_attempts_total",
		Help: "Payment attempt state changes by payment mode and state.",
	}, []string{"mode", "state"})
	discount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_discount_applied_total",
		Help: "Coupon discount granted on reconciled payments, in major currency units.",
	}, []string{"mode"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_jobs_total",
		Help: "Background job executions by task and outcome.",
	}, []string{"task", "status"})
	registry.MustRegister(requests, duration, attempts, discount, jobs)
	// Pre-create the job series so dashboards have a baseline before the first run.
	jobs.WithLabelValues("billing:ledger_refresh", "ok").Add(0)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		attemptsTotal:   attempts,
		discountTotal:   discount,
		jobsTotal:       jobs,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveAttempt counts a payment attempt reaching state.
func (m *Metrics) ObserveAttempt(mode, state string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(mode, state).Inc()
}

// ObserveDiscount adds a reconciled payment's discount.
func (m *Metrics) ObserveDiscount(mode string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.discountTotal.WithLabelValues(mode).Add(amount)
}

// ObserveJob counts one background job execution.
func (m *Metrics) ObserveJob(task string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.jobsTotal.WithLabelValues(task, status).Inc()
}

// Registerer exposes the registry for custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
