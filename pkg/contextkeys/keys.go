// Package contextkeys holds every request-scoped context key accessgate uses.
//
// Values are stored untyped so this package stays free of imports from the
// packages that own them; each owner reads its key back with a type
// assertion:
//
//	ctx = contextkeys.WithSession(ctx, session)
//	session, _ := ctx.Value(contextkeys.SessionKey).(*auth.Session)
package contextkeys

import (
	"context"
	"time"
)

// Key names a context value. A distinct type keeps these keys from
// colliding with plain strings used by other packages.
type Key string

// Keys set by the request pipeline, outermost first.
const (
	// RequestIDKey holds the request id string from httputil.RequestIDMiddleware.
	RequestIDKey Key = "accessgate.request_id"
	// RequestStartTimeKey holds the time.Time the logging middleware saw the request.
	RequestStartTimeKey Key = "accessgate.request_start"
	// LoggerKey holds the request-scoped logrus.FieldLogger.
	LoggerKey Key = "accessgate.logger"
	// SessionKey holds the verified *auth.Session.
	SessionKey Key = "accessgate.session"
	// UserIDKey holds the session's user id string.
	UserIDKey Key = "accessgate.user_id"
	// IdentityKey holds the *emulation.Identity after role resolution.
	IdentityKey Key = "accessgate.identity"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetRequestID returns the request id, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetUserID returns the authenticated user id, or "" before authentication.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// RequestStartTime returns when the request entered the server.
func RequestStartTime(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return start, ok
}
