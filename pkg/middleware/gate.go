package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/emulation"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// Gate authorizes requests against the identity resolved by
// emulation.Resolver.Middleware.
type Gate struct {
	checker  *rbac.Checker
	auditLog audit.Logger
	logger   logrus.FieldLogger
}

// NewGate creates a Gate. checker is only needed for RequirePermission; a
// nil auditLog skips denial events.
func NewGate(checker *rbac.Checker, auditLog audit.Logger, logger logrus.FieldLogger) *Gate {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Gate{
		checker:  checker,
		auditLog: auditLog,
		logger:   logger,
	}
}

// RequireLevel admits requests whose effective role passes level.
func (g *Gate) RequireLevel(level rbac.Level) func(http.Handler) http.Handler {
	return g.require(string(level), func(_ *http.Request, id *emulation.Identity) (bool, error) {
		return id.CheckAccess(level), nil
	})
}

// RequireOriginalLevel admits requests whose real role passes level,
// whatever role is being emulated. Emulation controls use it so an admin can
// always stop emulating a lower role.
func (g *Gate) RequireOriginalLevel(level rbac.Level) func(http.Handler) http.Handler {
	return g.require("original:"+string(level), func(_ *http.Request, id *emulation.Identity) (bool, error) {
		return rbac.CheckAccess(id.OriginalRole, level), nil
	})
}

// RequirePermission admits requests whose effective role holds permission.
// Permission lookup failures are reported with their own status (503 when
// the database circuit is open).
func (g *Gate) RequirePermission(permission rbac.Permission) func(http.Handler) http.Handler {
	return g.require(permission, func(r *http.Request, id *emulation.Identity) (bool, error) {
		return g.checker.HasPermission(r.Context(), id.EffectiveRole, permission)
	})
}

func (g *Gate) require(requirement string, allowed func(*http.Request, *emulation.Identity) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := emulation.IdentityFromContext(r.Context())
			if !ok {
				httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
				return
			}

			ok, err := allowed(r, id)
			if err != nil {
				if g.logger != nil {
					g.logger.WithError(err).WithField("requirement", requirement).Error("Authorization check failed")
				}
				httputil.WriteAppError(w, err)
				return
			}
			if !ok {
				g.denied(r, id, requirement)
				httputil.WriteAppError(w, apperrors.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) denied(r *http.Request, id *emulation.Identity, requirement string) {
	ctx := r.Context()
	event := audit.NewEvent(ctx, r, audit.EventTypeAccessDenied, audit.EventStatusDenied)
	event.UserID = id.UserID
	event.OrganizationID = id.EffectiveOrgID
	event.OriginalRole = string(id.OriginalRole)
	event.EffectiveRole = string(id.EffectiveRole)
	event.Message = "Access denied"
	event.Metadata["requirement"] = requirement
	event.Metadata["isEmulated"] = id.IsEmulated
	logAudit(ctx, g.auditLog, g.logger, event)
}
