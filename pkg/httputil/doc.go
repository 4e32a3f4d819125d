// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Every error leaves the service through WriteAppError, which classifies the
// error with apperrors.From and writes {"error", "code"} with the matching
// status. Rate limited responses add "retryAfter" and a Retry-After header.
//
//	if err != nil {
//		httputil.WriteAppError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, resp)
//
// # Request Parsing
//
//	var req StartRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// ClientIP resolves the caller address from X-Real-IP, CF-Connecting-IP,
// True-Client-IP, X-Client-IP, the first valid X-Forwarded-For entry and
// finally RemoteAddr.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.SecurityHeadersMiddleware,
//	)
package httputil
