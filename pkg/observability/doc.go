// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry export and health checks for accessgate.
//
// # Logging
//
// The process logger is a logrus.Logger configured from the observability
// config section:
//
//	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
//
// Handlers log through the request-scoped entry installed by
// httputil.LoggingMiddleware:
//
//	observability.FromContext(r.Context()).WithError(err).Error("Lookup failed")
//
// # Metrics
//
// NewMetrics registers the accessgate_* collectors. Its Observe* methods
// match the observer hooks exposed by the middleware, rbac, emulation and
// breaker packages so main can wire them without those packages importing
// Prometheus.
//
// # Health
//
// HealthChecker probes the database through the circuit breaker and reports
// the breaker's state. It answers 200 when healthy and 503 when degraded.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "accessgate",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
