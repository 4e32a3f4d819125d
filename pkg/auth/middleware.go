package auth

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

// SessionVerifier turns request cookies into a session.
type SessionVerifier interface {
	VerifyRequest(r *http.Request) (*Session, error)
}

// SessionMiddleware verifies the access token cookie and stores the session
// in the request context. With required=false a missing or bad token lets
// the request through anonymously.
func SessionMiddleware(verifier SessionVerifier, required bool, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := verifier.VerifyRequest(r)
			if err != nil {
				if !errors.Is(err, ErrMissingToken) {
					logger.WithError(err).WithField("path", r.URL.Path).Debug("Rejected access token")
				}
				if required {
					httputil.WriteAppError(w, unauthorized(err))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireSession rejects requests that reached it without a session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(err error) *apperrors.Error {
	switch {
	case errors.Is(err, ErrExpiredToken):
		return apperrors.Wrap(apperrors.KindUnauthorized, "Session expired", err)
	case errors.Is(err, ErrMissingToken):
		return apperrors.Wrap(apperrors.KindUnauthorized, "Authentication required", err)
	default:
		return apperrors.Wrap(apperrors.KindUnauthorized, "Invalid session", err)
	}
}
