package emulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/contextkeys"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

var (
	ErrSubjectMismatch     = errors.New("emulation cookie belongs to another user")
	ErrOriginalRoleChanged = errors.New("session role differs from the role that started the emulation")
)

// Identity is who a request acts as once emulation has been applied.
type Identity struct {
	UserID         string    `json:"userId"`
	Email          string    `json:"email,omitempty"`
	OriginalRole   rbac.Role `json:"originalRole"`
	OriginalOrgID  string    `json:"originalOrgId,omitempty"`
	EffectiveRole  rbac.Role `json:"effectiveRole"`
	EffectiveOrgID string    `json:"effectiveOrgId,omitempty"`
	IsEmulated     bool      `json:"isEmulated"`
	Emulation      State     `json:"emulation"`
}

// CheckAccess applies the authorization gate to the effective role.
func (i Identity) CheckAccess(level rbac.Level) bool {
	return rbac.CheckAccess(i.EffectiveRole, level)
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return id, ok && id != nil
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, id)
}

// baseIdentity is the session's own role and organization.
func baseIdentity(session *auth.Session) Identity {
	return Identity{
		UserID:         session.UserID,
		Email:          session.Email,
		OriginalRole:   session.Role,
		OriginalOrgID:  session.OrgID,
		EffectiveRole:  session.Role,
		EffectiveOrgID: session.OrgID,
		Emulation:      None(),
	}
}

// Resolver applies the emulation cookie to a session.
type Resolver struct {
	codec    *CookieCodec
	logger   logrus.FieldLogger
	onReject func(err error)
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger used for rejected cookies.
func WithResolverLogger(logger logrus.FieldLogger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithRejectHook is called whenever a present cookie is ignored.
func WithRejectHook(fn func(err error)) ResolverOption {
	return func(r *Resolver) { r.onReject = fn }
}

// NewResolver creates a Resolver reading cookies with codec.
func NewResolver(codec *CookieCodec, opts ...ResolverOption) *Resolver {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	r := &Resolver{codec: codec, logger: discard}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity for session. The session's own role and
// organization are used unless the request carries a valid emulation cookie
// that the session's real role is allowed to use. A non-nil error means a
// cookie was present and ignored; the returned identity is still usable.
func (r *Resolver) Resolve(session *auth.Session, req *http.Request) (Identity, error) {
	id := baseIdentity(session)

	e, err := r.codec.Read(req)
	if err != nil {
		if errors.Is(err, ErrNoEmulation) {
			return id, nil
		}
		return id, err
	}

	if e.UserID != session.UserID {
		return id, ErrSubjectMismatch
	}
	if e.OriginalRole != session.Role {
		return id, fmt.Errorf("%w: cookie %s, session %s", ErrOriginalRoleChanged, e.OriginalRole, session.Role)
	}
	if err := rbac.EmulationAllowed(session.Role, e.Role); err != nil {
		return id, err
	}

	id.EffectiveRole = e.Role
	if e.OrganizationID != "" {
		id.EffectiveOrgID = e.OrganizationID
	}
	id.IsEmulated = true
	id.Emulation = Active(e)
	return id, nil
}

// Middleware resolves the identity once per request and stores it in the
// context. Requests without a session pass through untouched. A rejected
// cookie is logged and cleared.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		session, ok := auth.SessionFromContext(req.Context())
		if !ok {
			next.ServeHTTP(w, req)
			return
		}

		id, err := r.Resolve(session, req)
		if err != nil {
			r.reject(session, req, err)
			r.codec.Clear(w)
		}

		next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), &id)))
	})
}

func (r *Resolver) reject(session *auth.Session, req *http.Request, err error) {
	entry := r.logger.WithError(err).WithFields(logrus.Fields{
		"user_id":    session.UserID,
		"role":       session.Role,
		"request_id": contextkeys.GetRequestID(req.Context()),
	})
	if errors.Is(err, ErrExpired) {
		entry.Info("Role emulation expired")
	} else {
		entry.Warn("Ignoring emulation cookie")
	}

	if r.onReject != nil {
		r.onReject(err)
	}
}
