package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/rbac"
)

const testSecret = "test-session-secret"

func testSession() Session {
	return Session{
		UserID: "5b0c1a52-7a39-4c8e-9d55-6f5f7b9a0d11",
		Email:  "manager@example.com",
		Role:   rbac.RolePropertyManager,
		OrgID:  "org-1",
	}
}

// signToken builds an access token the way the auth provider does.
func signToken(secret, issuer string, session Session, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    session.Email,
		UserRole: string(session.Role),
		OrgID:    session.OrgID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func TestVerifier_RoundTrip(t *testing.T) {
	token, err := signToken(testSecret, "", testSession(), time.Hour)
	require.NoError(t, err)

	session, err := NewVerifier(testSecret).Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "5b0c1a52-7a39-4c8e-9d55-6f5f7b9a0d11", session.UserID)
	assert.Equal(t, "manager@example.com", session.Email)
	assert.Equal(t, rbac.RolePropertyManager, session.Role)
	assert.Equal(t, "org-1", session.OrgID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, 5*time.Second)
}

func TestVerifier_Rejects(t *testing.T) {
	good, err := signToken(testSecret, "", testSession(), time.Hour)
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := NewVerifier(testSecret).Verify("")
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewVerifier("other-secret").Verify(good)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := NewVerifier(testSecret).Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := NewVerifier(testSecret, WithClock(later)).Verify(good)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("leeway", func(t *testing.T) {
		later := func() time.Time { return time.Now().Add(time.Hour + 10*time.Second) }
		_, err := NewVerifier(testSecret, WithClock(later), WithLeeway(time.Minute)).Verify(good)
		assert.NoError(t, err)
	})

	t.Run("missing exp", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = NewVerifier(testSecret).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		s := testSession()
		s.UserID = ""
		token, err := signToken(testSecret, "", s, time.Hour)
		require.NoError(t, err)
		_, err = NewVerifier(testSecret).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("algorithm none", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserRole: "super_admin",
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = NewVerifier(testSecret).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		token, err := signToken(testSecret, "someone-else", testSession(), time.Hour)
		require.NoError(t, err)
		_, err = NewVerifier(testSecret, WithIssuer("supabase")).Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestVerifier_VerifyRequest(t *testing.T) {
	token, err := signToken(testSecret, "", testSession(), time.Hour)
	require.NoError(t, err)
	verifier := NewVerifier(testSecret)

	t.Run("no cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := verifier.VerifyRequest(req)
		assert.ErrorIs(t, err, ErrMissingToken)
	})

	t.Run("access only", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
		session, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		assert.False(t, session.HasRefreshToken)
	})

	t.Run("with refresh", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: token})
		req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "opaque"})
		session, err := verifier.VerifyRequest(req)
		require.NoError(t, err)
		assert.True(t, session.HasRefreshToken)
	})
}
