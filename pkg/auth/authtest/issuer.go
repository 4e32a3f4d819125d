// Package authtest signs access tokens that auth.Verifier accepts, for tests
// of packages that sit behind session authentication.
package authtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/accessgate/pkg/auth"
)

// Issuer signs HS256 access tokens with the secret a Verifier checks.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an Issuer. An empty issuer leaves the iss claim unset.
func NewIssuer(secret, issuer string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue returns a signed token for session valid for ttl.
func (i *Issuer) Issue(session auth.Session, ttl time.Duration) (string, error) {
	now := i.now()
	claims := auth.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    session.Email,
		UserRole: string(session.Role),
		OrgID:    session.OrgID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
