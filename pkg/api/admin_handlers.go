package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/emulation"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/middleware"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// RolePermissionsResponse is the body of GET /api/admin/permissions/{role}.
type RolePermissionsResponse struct {
	Role        rbac.Role         `json:"role"`
	Tier        string            `json:"tier"`
	Permissions []rbac.Permission `json:"permissions"`
}

// CacheClearResponse reports a permission cache flush.
type CacheClearResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Before  rbac.CacheStats `json:"before"`
}

// AuditLogsResponse is a page of audit events.
type AuditLogsResponse struct {
	Events []*audit.AuditEvent `json:"events"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// AdminHandlers serves permission administration and the audit log.
type AdminHandlers struct {
	checker  *rbac.Checker
	gate     *middleware.Gate
	csrf     *middleware.CSRF
	auditLog audit.Logger
	search   AuditSearcher
	logger   logrus.FieldLogger
}

// NewAdminHandlers creates admin handlers. A nil search leaves the audit log
// route unregistered.
func NewAdminHandlers(checker *rbac.Checker, gate *middleware.Gate, csrf *middleware.CSRF, auditLog audit.Logger, search AuditSearcher, logger logrus.FieldLogger) *AdminHandlers {
	return &AdminHandlers{
		checker:  checker,
		gate:     gate,
		csrf:     csrf,
		auditLog: auditLog,
		search:   search,
		logger:   logger,
	}
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	admin := h.gate.RequireLevel(rbac.LevelAdmin)

	// The literal cache route must win over {role}.
	router.Handle("/api/admin/permissions/cache",
		httputil.Chain(auth.RequireSession, admin, h.csrf.Protect)(http.HandlerFunc(h.clearCache)),
	).Methods(http.MethodDelete)
	router.Handle("/api/admin/permissions/{role}",
		httputil.Chain(auth.RequireSession, admin)(http.HandlerFunc(h.rolePermissions)),
	).Methods(http.MethodGet)

	if h.search != nil {
		router.Handle("/api/admin/audit-logs",
			httputil.Chain(auth.RequireSession, h.gate.RequirePermission(rbac.PermAdminAuditLogs))(http.HandlerFunc(h.auditLogs)),
		).Methods(http.MethodGet)
	}
}

func (h *AdminHandlers) rolePermissions(w http.ResponseWriter, r *http.Request) {
	raw, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}
	role := rbac.Role(raw)
	if !rbac.IsKnown(role) {
		httputil.WriteAppError(w, apperrors.NotFound(fmt.Sprintf("Unknown role: %s", raw)))
		return
	}

	permissions, err := h.checker.Permissions(r.Context(), role)
	if err != nil {
		h.logger.WithError(err).WithField("role", role).Error("Failed to load permissions")
		httputil.WriteAppError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, RolePermissionsResponse{
		Role:        role,
		Tier:        rbac.TierOf(role).String(),
		Permissions: permissions,
	})
}

func (h *AdminHandlers) clearCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	before := h.checker.CacheStats(ctx)
	h.checker.Clear(ctx)

	event := audit.NewEvent(ctx, r, audit.EventTypePermissionCacheClear, audit.EventStatusSuccess)
	if id, ok := emulation.IdentityFromContext(ctx); ok {
		event.UserID = id.UserID
		event.OrganizationID = id.EffectiveOrgID
		event.OriginalRole = string(id.OriginalRole)
		event.EffectiveRole = string(id.EffectiveRole)
	}
	event.Message = "Cleared permission cache"
	event.Metadata["entriesCleared"] = before.Entries
	if err := h.auditLog.Log(ctx, event); err != nil {
		h.logger.WithError(err).Error("Failed to write audit event")
	}

	h.logger.WithField("entries", before.Entries).Info("Permission cache cleared")
	_ = httputil.WriteSuccess(w, CacheClearResponse{
		Success: true,
		Message: "Permission cache cleared",
		Before:  before,
	})
}

func (h *AdminHandlers) auditLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSearchFilter(r.URL.Query())
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.search.Search(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to search audit logs")
		httputil.WriteAppError(w, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}

	_ = httputil.WriteSuccess(w, AuditLogsResponse{
		Events: events,
		Limit:  filter.EffectiveLimit(),
		Offset: filter.Offset,
	})
}

// parseSearchFilter reads start, end (RFC 3339), user_id, event_type
// (repeatable or comma separated), status, limit and offset.
func parseSearchFilter(q url.Values) (audit.SearchFilter, error) {
	var filter audit.SearchFilter

	for name, dest := range map[string]**time.Time{"start": &filter.StartTime, "end": &filter.EndTime} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, fmt.Errorf("invalid %s: must be RFC 3339", name)
			}
			*dest = &t
		}
	}

	filter.UserID = q.Get("user_id")

	for _, v := range q["event_type"] {
		for _, et := range strings.Split(v, ",") {
			if et = strings.TrimSpace(et); et != "" {
				filter.EventTypes = append(filter.EventTypes, audit.EventType(et))
			}
		}
	}

	if v := q.Get("status"); v != "" {
		status := audit.EventStatus(v)
		switch status {
		case audit.EventStatusSuccess, audit.EventStatusFailure, audit.EventStatusDenied:
			filter.Status = &status
		default:
			return filter, fmt.Errorf("invalid status %q", v)
		}
	}

	for name, dest := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, fmt.Errorf("invalid %s: must be a non-negative integer", name)
			}
			*dest = n
		}
	}

	return filter, nil
}
