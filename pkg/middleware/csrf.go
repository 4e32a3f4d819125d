package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/httputil"
)

const (
	CSRFCookieName = "csrf-token"
	CSRFHeaderName = "X-CSRF-Token"

	// CSRFErrorCode is the error code of a failed CSRF check.
	CSRFErrorCode = "CSRF_VALIDATION_FAILED"

	DefaultCSRFTTL = time.Hour
)

var (
	ErrCSRFMissingHeader = errors.New("missing CSRF token header")
	ErrCSRFMissingCookie = errors.New("missing CSRF cookie")
	ErrCSRFInvalid       = errors.New("invalid CSRF token")
)

// CSRF implements the double-submit cookie pattern. The cookie holds
// "<unix millis base36>.<16 random bytes hex>"; the client echoes
// "<cookie>.<hmac-sha256 hex>" in the X-CSRF-Token header.
type CSRF struct {
	secret   []byte
	ttl      time.Duration
	secure   bool
	now      func() time.Time
	auditLog audit.Logger
	logger   logrus.FieldLogger
}

// CSRFOption configures CSRF.
type CSRFOption func(*CSRF)

// WithCSRFTTL sets how long an issued token is accepted.
func WithCSRFTTL(ttl time.Duration) CSRFOption {
	return func(c *CSRF) { c.ttl = ttl }
}

// WithCSRFClock overrides the time source.
func WithCSRFClock(now func() time.Time) CSRFOption {
	return func(c *CSRF) { c.now = now }
}

// WithCSRFAudit records failures as security.csrf_failure events.
func WithCSRFAudit(auditLog audit.Logger) CSRFOption {
	return func(c *CSRF) { c.auditLog = auditLog }
}

// WithCSRFLogger logs failures.
func WithCSRFLogger(logger logrus.FieldLogger) CSRFOption {
	return func(c *CSRF) { c.logger = logger }
}

// NewCSRF creates a CSRF protector signing with secret.
func NewCSRF(secret string, secure bool, opts ...CSRFOption) *CSRF {
	c := &CSRF{
		secret: []byte(secret),
		ttl:    DefaultCSRFTTL,
		secure: secure,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns a new cookie token and the matching header token.
func (c *CSRF) Generate() (cookieToken, headerToken string, err error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	cookieToken = strconv.FormatInt(c.now().UnixMilli(), 36) + "." + hex.EncodeToString(random)
	return cookieToken, cookieToken + "." + c.sign(cookieToken), nil
}

// Issue sets the CSRF cookie and returns the header token for the client.
func (c *CSRF) Issue(w http.ResponseWriter) (string, error) {
	cookieToken, headerToken, err := c.Generate()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    cookieToken,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return headerToken, nil
}

// Verify reports whether headerToken is a valid, unexpired signature of
// cookieToken.
func (c *CSRF) Verify(headerToken, cookieToken string) bool {
	if headerToken == "" || cookieToken == "" {
		return false
	}

	parts := strings.Split(headerToken, ".")
	if len(parts) != 3 {
		return false
	}
	tokenPart := parts[0] + "." + parts[1]
	if tokenPart != cookieToken {
		return false
	}

	signature, err := hex.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(c.sign(tokenPart))
	if !hmac.Equal(signature, expected) {
		return false
	}

	issuedMillis, err := strconv.ParseInt(parts[0], 36, 64)
	if err != nil {
		return false
	}
	age := c.now().Sub(time.UnixMilli(issuedMillis))
	return age <= c.ttl
}

// Validate checks r. GET, HEAD and OPTIONS are never checked.
func (c *CSRF) Validate(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	headerToken := r.Header.Get(CSRFHeaderName)
	if headerToken == "" {
		return ErrCSRFMissingHeader
	}
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return ErrCSRFMissingCookie
	}
	if !c.Verify(headerToken, cookie.Value) {
		return ErrCSRFInvalid
	}
	return nil
}

// Protect rejects state-changing requests that fail Validate with 403.
func (c *CSRF) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := c.Validate(r); err != nil {
			c.failed(r, err)
			httputil.WriteErrorMessage(w, http.StatusForbidden, CSRFErrorCode, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CSRF) sign(token string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *CSRF) failed(r *http.Request, err error) {
	if c.logger != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Warn("CSRF validation failed")
	}
	if c.auditLog == nil {
		return
	}

	ctx := r.Context()
	event := audit.NewEvent(ctx, r, audit.EventTypeCSRFFailure, audit.EventStatusDenied)
	if session, ok := auth.SessionFromContext(ctx); ok {
		event.UserID = session.UserID
		event.OrganizationID = session.OrgID
	}
	event.Message = err.Error()
	logAudit(ctx, c.auditLog, c.logger, event)
}
