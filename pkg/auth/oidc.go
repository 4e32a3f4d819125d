package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/accessgate/pkg/rbac"
)

const defaultRoleClaim = "user_role"

// OIDCVerifier validates access tokens issued by an OpenID Connect provider.
// It reads the same cookie as Verifier so either can sit behind
// SessionMiddleware.
type OIDCVerifier struct {
	verifier  *oidc.IDTokenVerifier
	roleClaim string
	orgClaim  string
}

// OIDCOption configures an OIDCVerifier.
type OIDCOption func(*OIDCVerifier)

// WithRoleClaim reads the role from claim instead of user_role.
func WithRoleClaim(claim string) OIDCOption {
	return func(v *OIDCVerifier) {
		if claim != "" {
			v.roleClaim = claim
		}
	}
}

// NewOIDCVerifier discovers issuerURL and verifies tokens whose audience
// contains clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, opts ...OIDCOption) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), opts...), nil
}

// NewOIDCVerifierWithKeys skips discovery and checks signatures against
// keySet.
func NewOIDCVerifierWithKeys(issuerURL, clientID string, keySet oidc.KeySet, now func() time.Time, opts ...OIDCOption) *OIDCVerifier {
	return newOIDCVerifier(oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID, Now: now}), opts...)
}

func newOIDCVerifier(verifier *oidc.IDTokenVerifier, opts ...OIDCOption) *OIDCVerifier {
	v := &OIDCVerifier{
		verifier:  verifier,
		roleClaim: defaultRoleClaim,
		orgClaim:  "org_id",
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks token and maps its claims to a session.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return nil, ErrInvalidToken
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Session{
		UserID:    idToken.Subject,
		Email:     stringClaim(claims, "email"),
		Role:      rbac.Role(stringClaim(claims, v.roleClaim)),
		OrgID:     stringClaim(claims, v.orgClaim),
		ExpiresAt: idToken.Expiry,
	}, nil
}

// VerifyRequest implements SessionVerifier.
func (v *OIDCVerifier) VerifyRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil {
		return nil, ErrMissingToken
	}

	session, err := v.Verify(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if refresh, err := r.Cookie(RefreshTokenCookie); err == nil && refresh.Value != "" {
		session.HasRefreshToken = true
	}
	return session, nil
}

func stringClaim(claims map[string]interface{}, name string) string {
	if s, ok := claims[name].(string); ok {
		return s
	}
	return ""
}
