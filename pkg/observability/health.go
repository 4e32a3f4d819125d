package observability

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/accessgate/pkg/breaker"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	CheckOK       = "ok"
	CheckError    = "error"
	CheckDisabled = "disabled"

	// DefaultProbeTimeout bounds each dependency probe.
	DefaultProbeTimeout = 2 * time.Second
)

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// HealthChecks groups the individual probes.
type HealthChecks struct {
	Database       CheckResult       `json:"database"`
	CircuitBreaker *breaker.Snapshot `json:"circuitBreaker,omitempty"`
	Redis          *CheckResult      `json:"redis,omitempty"`
}

// HealthReport is the body of GET /api/health.
type HealthReport struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Checks    HealthChecks `json:"checks"`
}

// Healthy reports whether the report has status healthy.
func (h HealthReport) Healthy() bool {
	return h.Status == StatusHealthy
}

// HealthChecker probes the database and optionally redis. The circuit
// breaker is only read: probes bypass it so health traffic cannot change its
// state. A nil db reports the database check as disabled.
type HealthChecker struct {
	db      *sql.DB
	breaker *breaker.Breaker
	redis   *redis.Client
	timeout time.Duration
	metrics *Metrics
	otel    *OTelMetrics
	now     func() time.Time
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithRedisCheck adds a redis ping to the report.
func WithRedisCheck(client *redis.Client) HealthOption {
	return func(h *HealthChecker) { h.redis = client }
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) { h.timeout = d }
}

// WithHealthMetrics records probe durations.
func WithHealthMetrics(m *Metrics) HealthOption {
	return func(h *HealthChecker) { h.metrics = m }
}

// WithHealthOTelMetrics records the database probe as a query.
func WithHealthOTelMetrics(m *OTelMetrics) HealthOption {
	return func(h *HealthChecker) { h.otel = m }
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB, brk *breaker.Breaker, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		db:      db,
		breaker: brk,
		timeout: DefaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check runs every probe. The status is degraded when a probe fails or the
// circuit is open.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:    StatusHealthy,
		Timestamp: h.now().UTC(),
	}

	report.Checks.Database = h.checkDatabase(ctx)
	if report.Checks.Database.Status == CheckError {
		report.Status = StatusDegraded
	}

	if h.breaker != nil {
		snapshot := h.breaker.Snapshot()
		report.Checks.CircuitBreaker = &snapshot
		if snapshot.IsOpen {
			report.Status = StatusDegraded
		}
	}

	if h.redis != nil {
		redisCheck := h.checkRedis(ctx)
		report.Checks.Redis = &redisCheck
		if redisCheck.Status == CheckError {
			report.Status = StatusDegraded
		}
	}

	return report
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: CheckDisabled, Message: "No database configured"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	var one int
	err := h.db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one)
	elapsed := time.Since(start)
	h.observe(ctx, "database", elapsed, err)

	result := CheckResult{Status: CheckOK, Message: "Connected", LatencyMs: elapsed.Milliseconds()}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Message = CheckError, "Database query timed out"
	default:
		result.Status, result.Message = CheckError, "Database query failed: "+err.Error()
	}
	return result
}

func (h *HealthChecker) checkRedis(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.HealthCheckDuration.WithLabelValues("redis").Observe(elapsed.Seconds())
	}

	if err != nil {
		return CheckResult{Status: CheckError, Message: err.Error(), LatencyMs: elapsed.Milliseconds()}
	}
	return CheckResult{Status: CheckOK, Message: "Connected", LatencyMs: elapsed.Milliseconds()}
}

func (h *HealthChecker) observe(ctx context.Context, check string, elapsed time.Duration, err error) {
	if h.metrics != nil {
		h.metrics.HealthCheckDuration.WithLabelValues(check).Observe(elapsed.Seconds())
	}
	if h.otel != nil {
		h.otel.RecordDBQuery(ctx, "health_check", elapsed, err)
	}
}

// ServeHTTP answers GET /api/health: 200 when healthy, 503 when degraded.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.Check(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, status, report)
}

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now().UTC(),
	})
}

// RegisterHealthRoutes registers the probe endpoints served on the health
// port.
func RegisterHealthRoutes(serveMux *http.ServeMux, checker *HealthChecker) {
	serveMux.Handle("/health", checker)
	serveMux.HandleFunc("/health/live", checker.Liveness)
	serveMux.Handle("/health/ready", checker)
}
