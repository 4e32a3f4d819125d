package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig is a fixed window: at most Max calls per Window.
type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

// Presets for the endpoint classes the API throttles.
var (
	// AuthRateLimit covers login, signup and password reset.
	AuthRateLimit    = RateLimitConfig{Window: 15 * time.Minute, Max: 5}
	APIRateLimit     = RateLimitConfig{Window: time.Minute, Max: 60}
	AdminRateLimit   = RateLimitConfig{Window: time.Minute, Max: 30}
	WebhookRateLimit = RateLimitConfig{Window: time.Minute, Max: 100}
	UploadRateLimit  = RateLimitConfig{Window: time.Minute, Max: 20}
)

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Success   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter is a rate limit backend.
type Limiter interface {
	// Allow counts one call against key. Implementations never fail the
	// caller; backend trouble results in an allowed call.
	Allow(ctx context.Context, key string, cfg RateLimitConfig) RateLimitResult
	// Name labels the backend in metrics.
	Name() string
}

type rateLimitRecord struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

func (r *rateLimitRecord) expired(now time.Time) bool {
	return now.After(r.windowStart.Add(r.window))
}

// FixedWindowLimiter is an in-process fixed window limiter. State does not
// survive a restart and is not shared between instances; use RedisLimiter
// for that.
//
// A fixed window admits up to 2*Max calls across a window boundary.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	records map[string]*rateLimitRecord
	now     func() time.Time
}

// FixedWindowOption configures a FixedWindowLimiter.
type FixedWindowOption func(*FixedWindowLimiter)

// WithLimiterClock overrides the time source.
func WithLimiterClock(now func() time.Time) FixedWindowOption {
	return func(l *FixedWindowLimiter) { l.now = now }
}

// NewFixedWindowLimiter creates an empty limiter.
func NewFixedWindowLimiter(opts ...FixedWindowOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		records: make(map[string]*rateLimitRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RateLimit counts one call for key. Every call first drops all records
// whose window has passed. A call that would exceed cfg.Max is refused and
// not counted.
func (l *FixedWindowLimiter) RateLimit(key string, cfg RateLimitConfig) RateLimitResult {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	rec, ok := l.records[key]
	if !ok || now.After(rec.windowStart.Add(cfg.Window)) {
		rec = &rateLimitRecord{windowStart: now, window: cfg.Window}
		l.records[key] = rec
	}

	resetAt := rec.windowStart.Add(cfg.Window)
	if rec.count >= cfg.Max {
		return RateLimitResult{Success: false, Remaining: 0, ResetAt: resetAt, Limit: cfg.Max}
	}

	rec.count++
	return RateLimitResult{Success: true, Remaining: cfg.Max - rec.count, ResetAt: resetAt, Limit: cfg.Max}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(_ context.Context, key string, cfg RateLimitConfig) RateLimitResult {
	return l.RateLimit(key, cfg)
}

// Name implements Limiter.
func (l *FixedWindowLimiter) Name() string { return "memory" }

// Sweep drops expired records and returns how many were removed.
func (l *FixedWindowLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

// Len returns the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *FixedWindowLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, rec := range l.records {
		if rec.expired(now) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}
