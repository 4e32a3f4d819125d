package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/platinummonkey/accessgate/pkg/breaker"
)

func newTestBreaker(threshold int) *breaker.Breaker {
	return breaker.New(breaker.Config{
		Name:             "database",
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
		DefaultTimeout:   time.Second,
	})
}

func TestHealthChecker_NoDatabase(t *testing.T) {
	checker := NewHealthChecker(nil, newTestBreaker(5))

	report := checker.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q, want %q", report.Status, StatusHealthy)
	}
	if report.Checks.Database.Status != CheckDisabled {
		t.Errorf("database status = %q, want %q", report.Checks.Database.Status, CheckDisabled)
	}
	if report.Checks.CircuitBreaker == nil || report.Checks.CircuitBreaker.State != "closed" {
		t.Errorf("circuit breaker = %+v, want closed", report.Checks.CircuitBreaker)
	}
	if report.Checks.Redis != nil {
		t.Error("redis check should be omitted when not configured")
	}
}

func TestHealthChecker_DatabaseHealthy(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	checker := NewHealthChecker(db, newTestBreaker(5), WithHealthMetrics(metrics))

	report := checker.Check(context.Background())
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q, want %q", report.Status, StatusHealthy)
	}
	if report.Checks.Database.Status != CheckOK {
		t.Errorf("database status = %q, want %q", report.Checks.Database.Status, CheckOK)
	}
	if got := testutil.CollectAndCount(metrics.HealthCheckDuration); got != 1 {
		t.Errorf("health check duration series = %d, want 1", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestHealthChecker_DatabaseFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	checker := NewHealthChecker(db, newTestBreaker(5))
	report := checker.Check(context.Background())

	if report.Status != StatusDegraded {
		t.Fatalf("status = %q, want %q", report.Status, StatusDegraded)
	}
	if report.Checks.Database.Status != CheckError {
		t.Errorf("database status = %q, want %q", report.Checks.Database.Status, CheckError)
	}
	if report.Checks.CircuitBreaker.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0: health checks must not feed the breaker", report.Checks.CircuitBreaker.FailureCount)
	}
}

func TestHealthChecker_FailingChecksLeaveBreakerClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	brk := newTestBreaker(5)
	checker := NewHealthChecker(db, brk)

	for i := 0; i < 10; i++ {
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))
		report := checker.Check(context.Background())
		if report.Status != StatusDegraded {
			t.Fatalf("check %d: status = %q, want %q", i, report.Status, StatusDegraded)
		}
	}

	if got := brk.State(); got != breaker.StateClosed {
		t.Fatalf("breaker state = %v, want closed", got)
	}
	if got := brk.Snapshot().FailureCount; got != 0 {
		t.Errorf("failure count = %d, want 0", got)
	}

	invoked := false
	if err := brk.Execute(context.Background(), time.Second, func(context.Context) error {
		invoked = true
		return nil
	}); err != nil {
		t.Fatalf("application call after health checks: %v", err)
	}
	if !invoked {
		t.Error("application call was not run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestHealthChecker_ReportsOpenCircuit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	brk := newTestBreaker(1)
	_ = brk.Execute(context.Background(), time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})
	before := brk.Snapshot()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	report := NewHealthChecker(db, brk).Check(context.Background())

	if report.Status != StatusDegraded {
		t.Fatalf("status = %q, want %q", report.Status, StatusDegraded)
	}
	if report.Checks.Database.Status != CheckOK {
		t.Errorf("database status = %q, want %q: the query runs even while the circuit is open", report.Checks.Database.Status, CheckOK)
	}
	if !report.Checks.CircuitBreaker.IsOpen || report.Checks.CircuitBreaker.State != "open" {
		t.Errorf("circuit breaker = %+v, want open", report.Checks.CircuitBreaker)
	}
	after := brk.Snapshot()
	if after.State != before.State || after.FailureCount != before.FailureCount {
		t.Errorf("breaker changed by health check: before %+v, after %+v", before, after)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestHealthChecker_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	checker := NewHealthChecker(nil, nil, WithRedisCheck(client), WithProbeTimeout(time.Second))

	report := checker.Check(context.Background())
	if report.Status != StatusHealthy || report.Checks.Redis == nil || report.Checks.Redis.Status != CheckOK {
		t.Fatalf("report = %+v, want healthy redis", report)
	}

	mr.Close()
	report = checker.Check(context.Background())
	if report.Status != StatusDegraded {
		t.Fatalf("status = %q, want %q", report.Status, StatusDegraded)
	}
	if report.Checks.Redis.Status != CheckError {
		t.Errorf("redis status = %q, want %q", report.Checks.Redis.Status, CheckError)
	}
}

func TestHealthChecker_ServeHTTP(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

	checker := NewHealthChecker(db, newTestBreaker(5))

	tests := []struct {
		name       string
		wantCode   int
		wantStatus string
	}{
		{"healthy", http.StatusOK, StatusHealthy},
		{"degraded", http.StatusServiceUnavailable, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			checker.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", w.Code, tt.wantCode)
			}

			var body struct {
				Status string `json:"status"`
				Checks struct {
					Database struct {
						Status string `json:"status"`
					} `json:"database"`
					CircuitBreaker struct {
						State  string `json:"state"`
						IsOpen bool   `json:"isOpen"`
					} `json:"circuitBreaker"`
				} `json:"checks"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Checks.CircuitBreaker.State != "closed" {
				t.Errorf("circuit breaker state = %q, want closed", body.Checks.CircuitBreaker.State)
			}
		})
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	serveMux := http.NewServeMux()
	RegisterHealthRoutes(serveMux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		serveMux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s returned %d, want 200", path, w.Code)
		}
	}
}
