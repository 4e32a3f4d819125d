package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// AccessClaims holds the JWT claims of the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	UserRole string `json:"user_role,omitempty"`
	OrgID    string `json:"org_id,omitempty"`
}

// Verifier validates access tokens signed with a shared HS256 secret.
type Verifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) VerifierOption {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithLeeway tolerates clock skew on exp/nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses token and returns the session it describes.
func (v *Verifier) Verify(token string) (*Session, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	session := &Session{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   rbac.Role(claims.UserRole),
		OrgID:  claims.OrgID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// VerifyRequest reads the session cookies from r. The refresh token is only
// checked for presence; renewing it belongs to the auth provider.
func (v *Verifier) VerifyRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return nil, ErrMissingToken
	}

	session, err := v.Verify(cookie.Value)
	if err != nil {
		return nil, err
	}

	if refresh, err := r.Cookie(RefreshTokenCookie); err == nil && refresh.Value != "" {
		session.HasRefreshToken = true
	}
	return session, nil
}
