package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/accessgate/pkg/breaker"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control metrics
	RateLimitDecisions   *prometheus.CounterVec
	PermissionCacheTotal *prometheus.CounterVec
	EmulationEvents      *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState      *prometheus.GaugeVec
	CircuitBreakerRejections *prometheus.CounterVec

	// Health metrics
	HealthCheckDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_ratelimit_decisions_total",
				Help: "Rate limit decisions by backend and result",
			},
			[]string{"limiter", "result"},
		),
		PermissionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_permission_cache_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"result"},
		),
		EmulationEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_emulation_events_total",
				Help: "Role emulation start and stop attempts",
			},
			[]string{"action", "result"},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "accessgate_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accessgate_circuit_breaker_rejections_total",
				Help: "Calls refused while the circuit was open",
			},
			[]string{"name"},
		),

		HealthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "accessgate_health_check_duration_seconds",
				Help:    "Health check probe duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2},
			},
			[]string{"check"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitDecisions,
		m.PermissionCacheTotal,
		m.EmulationEvents,
		m.CircuitBreakerState,
		m.CircuitBreakerRejections,
		m.HealthCheckDuration,
	)

	return m
}

// ObserveRateLimit matches middleware.WithDecisionObserver.
func (m *Metrics) ObserveRateLimit(limiter, result string) {
	m.RateLimitDecisions.WithLabelValues(limiter, result).Inc()
}

// ObservePermissionLookup matches rbac.LookupObserver.
func (m *Metrics) ObservePermissionLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheTotal.WithLabelValues(result).Inc()
}

// ObserveEmulation matches emulation.WithEventObserver.
func (m *Metrics) ObserveEmulation(action, result string) {
	m.EmulationEvents.WithLabelValues(action, result).Inc()
}

// ObserveBreakerState matches breaker.StateChangeFunc.
func (m *Metrics) ObserveBreakerState(name string, _, to breaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

// ObserveBreakerRejection matches breaker.RejectFunc.
func (m *Metrics) ObserveBreakerRejection(name string) {
	m.CircuitBreakerRejections.WithLabelValues(name).Inc()
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the mux route template so path parameters do
// not create new series.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := httputil.NewStatusRecorder(w)
			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status())).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, gatherer prometheus.Gatherer) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
