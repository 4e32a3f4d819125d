package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

// RateLimitOption configures the RateLimit middleware.
type RateLimitOption func(*rateLimitOptions)

type rateLimitOptions struct {
	auditLog audit.Logger
	logger   logrus.FieldLogger
	observe  func(limiter, result string)
}

// WithRateLimitAudit records refused calls as security.rate_limited events.
func WithRateLimitAudit(auditLog audit.Logger) RateLimitOption {
	return func(o *rateLimitOptions) { o.auditLog = auditLog }
}

// WithRateLimitLogger logs refused calls.
func WithRateLimitLogger(logger logrus.FieldLogger) RateLimitOption {
	return func(o *rateLimitOptions) { o.logger = logger }
}

// WithDecisionObserver receives (limiter name, "allowed"|"limited") for every
// call.
func WithDecisionObserver(fn func(limiter, result string)) RateLimitOption {
	return func(o *rateLimitOptions) { o.observe = fn }
}

// RateLimitKey identifies the caller of endpoint: the session user when
// there is one, otherwise the client ip.
func RateLimitKey(r *http.Request, endpoint string) string {
	if session, ok := auth.SessionFromContext(r.Context()); ok && session.UserID != "" {
		return endpoint + ":user:" + session.UserID
	}
	return endpoint + ":ip:" + httputil.ClientIP(r)
}

// RateLimit throttles endpoint with limiter under cfg. Every response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset
// (unix seconds). Refused calls get 429 with Retry-After.
func RateLimit(limiter Limiter, cfg RateLimitConfig, endpoint string, opts ...RateLimitOption) func(http.Handler) http.Handler {
	o := &rateLimitOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := RateLimitKey(r, endpoint)
			result := limiter.Allow(r.Context(), key, cfg)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Success {
				o.record(limiter.Name(), "limited")
				o.refused(r, endpoint, key, result)
				httputil.WriteAppError(w, apperrors.RateLimited(result.ResetAt))
				return
			}

			o.record(limiter.Name(), "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func (o *rateLimitOptions) record(limiter, result string) {
	if o.observe != nil {
		o.observe(limiter, result)
	}
}

func (o *rateLimitOptions) refused(r *http.Request, endpoint, key string, result RateLimitResult) {
	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"key":      key,
			"reset_at": result.ResetAt,
		}).Warn("Rate limit exceeded")
	}
	if o.auditLog == nil {
		return
	}

	ctx := r.Context()
	event := audit.NewEvent(ctx, r, audit.EventTypeRateLimited, audit.EventStatusDenied)
	if session, ok := auth.SessionFromContext(ctx); ok {
		event.UserID = session.UserID
		event.OrganizationID = session.OrgID
	}
	event.Message = "Rate limit exceeded"
	event.Metadata["endpoint"] = endpoint
	event.Metadata["limit"] = result.Limit
	event.Metadata["resetAt"] = result.ResetAt.Unix()
	logAudit(ctx, o.auditLog, o.logger, event)
}

// logAudit writes event and logs, rather than returns, a failure.
func logAudit(ctx context.Context, auditLog audit.Logger, logger logrus.FieldLogger, event *audit.AuditEvent) {
	if err := auditLog.Log(ctx, event); err != nil && logger != nil {
		logger.WithError(err).WithField("event_type", event.EventType).Error("Failed to write audit event")
	}
}
