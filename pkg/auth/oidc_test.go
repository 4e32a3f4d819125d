package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/rbac"
)

const (
	testOIDCIssuer   = "https://login.example.com"
	testOIDCClientID = "accessgate"
)

type oidcClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"user_role,omitempty"`
	Group string `json:"app_role,omitempty"`
	OrgID string `json:"org_id,omitempty"`
}

func signOIDC(t *testing.T, key *rsa.PrivateKey, mutate func(*oidcClaims)) string {
	t.Helper()
	now := time.Now()
	claims := oidcClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    testOIDCIssuer,
			Audience:  jwt.ClaimStrings{testOIDCClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: "admin@example.com",
		Role:  string(rbac.RoleOrgAdmin),
		Group: string(rbac.RolePropertyManager),
		OrgID: "org-1",
	}
	if mutate != nil {
		mutate(&claims)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newTestOIDCVerifier(t *testing.T, opts ...OIDCOption) (*OIDCVerifier, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	return NewOIDCVerifierWithKeys(testOIDCIssuer, testOIDCClientID, keySet, time.Now, opts...), key
}

func TestOIDCVerifier_Verify(t *testing.T) {
	verifier, key := newTestOIDCVerifier(t)

	session, err := verifier.Verify(context.Background(), signOIDC(t, key, nil))
	require.NoError(t, err)

	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "admin@example.com", session.Email)
	assert.Equal(t, rbac.RoleOrgAdmin, session.Role)
	assert.Equal(t, "org-1", session.OrgID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}

func TestOIDCVerifier_RoleClaim(t *testing.T) {
	verifier, key := newTestOIDCVerifier(t, WithRoleClaim("app_role"))

	session, err := verifier.Verify(context.Background(), signOIDC(t, key, nil))
	require.NoError(t, err)
	assert.Equal(t, rbac.RolePropertyManager, session.Role)
}

func TestOIDCVerifier_Rejects(t *testing.T) {
	verifier, key := newTestOIDCVerifier(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong key", signOIDC(t, otherKey, nil), ErrInvalidToken},
		{"wrong audience", signOIDC(t, key, func(c *oidcClaims) {
			c.Audience = jwt.ClaimStrings{"someone-else"}
		}), ErrInvalidToken},
		{"wrong issuer", signOIDC(t, key, func(c *oidcClaims) {
			c.Issuer = "https://evil.example.com"
		}), ErrInvalidToken},
		{"expired", signOIDC(t, key, func(c *oidcClaims) {
			c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		}), ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOIDCVerifier_VerifyRequest(t *testing.T) {
	verifier, key := newTestOIDCVerifier(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := verifier.VerifyRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: signOIDC(t, key, nil)})
	r.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "refresh"})
	session, err := verifier.VerifyRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.True(t, session.HasRefreshToken)
}

func TestOIDCVerifier_SatisfiesSessionVerifier(t *testing.T) {
	var _ SessionVerifier = (*OIDCVerifier)(nil)
	var _ SessionVerifier = (*Verifier)(nil)
}
