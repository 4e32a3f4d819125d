package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/accessgate/pkg/contextkeys"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// Cookie names set by the auth provider.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

var (
	ErrMissingToken = errors.New("missing access token")
	ErrInvalidToken = errors.New("invalid access token")
	ErrExpiredToken = errors.New("access token expired")
)

// Session is the authenticated user behind a request.
type Session struct {
	UserID          string    `json:"userId"`
	Email           string    `json:"email,omitempty"`
	Role            rbac.Role `json:"role"`
	OrgID           string    `json:"orgId,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
	HasRefreshToken bool      `json:"-"`
}

// WithSession stores session in ctx.
func WithSession(ctx context.Context, session *Session) context.Context {
	ctx = contextkeys.WithSession(ctx, session)
	return contextkeys.WithUserID(ctx, session.UserID)
}

// SessionFromContext returns the session stored by the session middleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(contextkeys.SessionKey).(*Session)
	return session, ok && session != nil
}

// ClearSessionCookies expires both auth cookies.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
