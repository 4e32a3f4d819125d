package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/platinummonkey/accessgate/pkg/breaker"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

// OTelMetrics mirrors the Prometheus request, probe and breaker series as
// OTLP instruments. They export through the meter provider installed by
// InitOTel and are no-ops without one.
type OTelMetrics struct {
	requests           metric.Int64Counter
	requestDuration    metric.Float64Histogram
	queries            metric.Int64Counter
	queryDuration      metric.Float64Histogram
	breakerTransitions metric.Int64Counter
	breakerRejections  metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	return newOTelMetrics(otel.Meter("github.com/platinummonkey/accessgate"))
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.requests, "http.server.requests", "HTTP requests served", "{request}"},
		{&m.queries, "accessgate.db.queries", "Database calls made through the breaker or health probe", "{query}"},
		{&m.breakerTransitions, "accessgate.breaker.transitions", "Circuit breaker state changes", "{transition}"},
		{&m.breakerRejections, "accessgate.breaker.rejections", "Calls rejected by an open circuit breaker", "{call}"},
	}
	for _, c := range counters {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.name, err)
		}
		*c.dst = inst
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.requestDuration, "http.server.duration", "HTTP request latency"},
		{&m.queryDuration, "accessgate.db.duration", "Database call latency"},
	}
	for _, h := range histograms {
		inst, err := meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", h.name, err)
		}
		*h.dst = inst
	}

	return m, nil
}

// RecordHTTPRequest counts one request against its route template.
func (m *OTelMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.response.status_code", statusCode),
	)
	m.requests.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDBQuery counts one database call.
func (m *OTelMetrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("db.operation.name", operation),
		attribute.Bool("error", err != nil),
	)
	m.queries.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, duration.Seconds(), attrs)
}

// ObserveBreakerState matches breaker.StateChangeFunc.
func (m *OTelMetrics) ObserveBreakerState(name string, from, to breaker.State) {
	m.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// ObserveBreakerRejection matches breaker.RejectFunc.
func (m *OTelMetrics) ObserveBreakerRejection(name string) {
	m.breakerRejections.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}

// Middleware records each request under its mux route template.
func (m *OTelMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := httputil.NewStatusRecorder(w)
		next.ServeHTTP(rw, r)
		m.RecordHTTPRequest(r.Context(), r.Method, routeLabel(r), rw.Status(), time.Since(start))
	})
}
