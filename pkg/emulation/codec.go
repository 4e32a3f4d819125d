package emulation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// CookieName is the cookie carrying the signed emulation record.
const CookieName = "role_emulation"

// audience separates emulation tokens from access tokens signed with the
// same algorithm.
const audience = "role_emulation"

var (
	ErrNoEmulation   = errors.New("no emulation cookie")
	ErrInvalidCookie = errors.New("invalid emulation cookie")
	ErrExpired       = errors.New("emulation expired")
)

type claims struct {
	jwt.RegisteredClaims
	Role             string                 `json:"emulated_role"`
	OriginalRole     string                 `json:"original_role"`
	OrganizationID   string                 `json:"org_id,omitempty"`
	OrganizationName string                 `json:"org_name,omitempty"`
	Context          map[string]interface{} `json:"ctx,omitempty"`
	Metadata         map[string]interface{} `json:"meta,omitempty"`
}

// CookieCodec signs emulation records into the role_emulation cookie and
// verifies them on the way back in.
type CookieCodec struct {
	secret []byte
	secure bool
	now    func() time.Time
}

// CodecOption configures a CookieCodec
type CodecOption func(*CookieCodec)

// WithCodecClock overrides the time source used for expiry checks.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *CookieCodec) { c.now = now }
}

// NewCookieCodec creates a codec. secure controls the cookie Secure flag.
func NewCookieCodec(secret string, secure bool, opts ...CodecOption) *CookieCodec {
	c := &CookieCodec{
		secret: []byte(secret),
		secure: secure,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode returns the signed token for e.
func (c *CookieCodec) Encode(e Emulation) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   e.UserID,
			ID:        e.SessionID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(e.StartedAt),
			ExpiresAt: jwt.NewNumericDate(e.ExpiresAt),
		},
		Role:             string(e.Role),
		OriginalRole:     string(e.OriginalRole),
		OrganizationID:   e.OrganizationID,
		OrganizationName: e.OrganizationName,
		Context:          e.Context,
		Metadata:         e.Metadata,
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign emulation cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies value and returns the emulation it carries.
func (c *CookieCodec) Decode(value string) (Emulation, error) {
	if value == "" {
		return Emulation{}, ErrNoEmulation
	}

	cl := &claims{}
	_, err := jwt.ParseWithClaims(value, cl, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Emulation{}, ErrExpired
		}
		return Emulation{}, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}

	if cl.Subject == "" || cl.ID == "" || cl.Role == "" || cl.OriginalRole == "" {
		return Emulation{}, fmt.Errorf("%w: missing required claims", ErrInvalidCookie)
	}

	e := Emulation{
		SessionID:        cl.ID,
		UserID:           cl.Subject,
		OrganizationID:   cl.OrganizationID,
		OrganizationName: cl.OrganizationName,
		Role:             rbac.Role(cl.Role),
		OriginalRole:     rbac.Role(cl.OriginalRole),
		Context:          cl.Context,
		Metadata:         cl.Metadata,
		ExpiresAt:        cl.ExpiresAt.Time,
	}
	if cl.IssuedAt != nil {
		e.StartedAt = cl.IssuedAt.Time
	}
	return e, nil
}

// Read decodes the emulation cookie of r.
func (c *CookieCodec) Read(r *http.Request) (Emulation, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Emulation{}, ErrNoEmulation
	}
	return c.Decode(cookie.Value)
}

// Cookie builds the cookie for e, expiring with it.
func (c *CookieCodec) Cookie(e Emulation) (*http.Cookie, error) {
	value, err := c.Encode(e)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  e.ExpiresAt,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Clear expires the emulation cookie.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
