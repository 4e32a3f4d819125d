// Package middleware provides HTTP middleware for throttling, CSRF protection
// and authorization.
//
// # Rate Limiting
//
// RateLimit applies a fixed window per endpoint and caller. The caller is the
// session user when there is one, otherwise the client ip:
//
//	limiter := middleware.NewFixedWindowLimiter()
//	router.Handle("/api/admin/stop-emulation",
//	    middleware.RateLimit(limiter, middleware.AdminRateLimit, "admin:stop-emulation")(h))
//
// FixedWindowLimiter keeps its counters in process and drops expired windows
// on every call. RedisLimiter shares counters between instances and fails
// open when redis is unreachable.
//
// Presets:
//
//	AuthRateLimit     5 per 15 minutes
//	APIRateLimit     60 per minute
//	AdminRateLimit   30 per minute
//	WebhookRateLimit 100 per minute
//	UploadRateLimit  20 per minute
//
// # CSRF
//
// CSRF.Issue sets the csrf-token cookie and returns the signed token the
// client sends back in X-CSRF-Token. CSRF.Protect rejects POST, PUT, PATCH
// and DELETE requests whose header does not match the cookie.
//
// # Authorization
//
// Gate.RequireLevel and Gate.RequirePermission check the effective
// (possibly emulated) role. Gate.RequireOriginalLevel checks the real role.
//
// # Related Packages
//
//   - pkg/emulation: Identity resolution
//   - pkg/rbac: Tiers and permissions
//   - pkg/audit: Denial events
package middleware
