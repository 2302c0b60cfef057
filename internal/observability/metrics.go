package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/school-billing/internal/ledger"
)

// Metrics collects Prometheus metrics for the billing service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	paymentsTotal   *prometheus.CounterVec
	paymentDuration *prometheus.HistogramVec
	ledgerEvents    *prometheus.CounterVec
	collected       *prometheus.CounterVec
	cacheBumps      prometheus.Counter
}

// NewMetrics initialises the registry and the base collectors.
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
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payment_attempts_total",
		Help: "Payment applications by outcome.",
	}, []string{"outcome"})
	paymentDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_payment_duration_seconds",
		Help:    "Payment application latency including conflict retries.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"outcome"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_ledger_events_total",
		Help: "Committed ledger writes by kind.",
	}, []string{"kind"})
	collected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_collected_amount_total",
		Help: "Sum of committed payment amounts by method.",
	}, []string{"method"})
	bumps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_cache_invalidations_total",
		Help: "Statement cache version bumps observed.",
	})
	registry.MustRegister(requests, duration, payments, paymentDuration, events, collected, bumps)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		paymentsTotal:   payments,
		paymentDuration: paymentDuration,
		ledgerEvents:    events,
		collected:       collected,
		cacheBumps:      bumps,
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

// ObservePayment implements ledger.PaymentObserver.
func (m *Metrics) ObservePayment(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(outcome).Inc()
	m.paymentDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// HandleLedgerEvent implements ledger.CommitHook.
func (m *Metrics) HandleLedgerEvent(_ context.Context, evt ledger.Event) error {
	if m == nil {
		return nil
	}
	m.ledgerEvents.WithLabelValues(string(evt.Kind)).Inc()
	if evt.Payment != nil {
		amount, _ := evt.Payment.Amount.Decimal().Float64()
		m.collected.WithLabelValues(string(evt.Payment.Method)).Add(amount)
	}
	return nil
}

// CacheInvalidated counts one observed cache version bump.
func (m *Metrics) CacheInvalidated(int64) {
	if m == nil {
		return
	}
	m.cacheBumps.Inc()
}

// Registerer exposes the registry for custom collectors.
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
