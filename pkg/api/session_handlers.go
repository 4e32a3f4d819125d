package api

import (
	"net/http"

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

// CSRFResponse carries the header token for the X-CSRF-Token header.
type CSRFResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// MeResponse describes the caller after emulation has been applied.
type MeResponse struct {
	Identity     *emulation.Identity `json:"identity"`
	Tier         string              `json:"tier"`
	OriginalTier string              `json:"originalTier"`
	CanEmulate   bool                `json:"canEmulate"`
	Permissions  []rbac.Permission   `json:"permissions"`
}

// AccessResponse is the answer of the authorization gate for one level.
type AccessResponse struct {
	Level         rbac.Level `json:"level"`
	Allowed       bool       `json:"allowed"`
	EffectiveRole rbac.Role  `json:"effectiveRole"`
}

// SuccessResponse is returned by actions with nothing else to report.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SessionHandlers serves the caller's own session endpoints.
type SessionHandlers struct {
	csrf          *middleware.CSRF
	checker       *rbac.Checker
	codec         *emulation.CookieCodec
	auditLog      audit.Logger
	logger        logrus.FieldLogger
	secureCookies bool
}

// NewSessionHandlers creates session handlers
func NewSessionHandlers(csrf *middleware.CSRF, checker *rbac.Checker, codec *emulation.CookieCodec, auditLog audit.Logger, logger logrus.FieldLogger, secureCookies bool) *SessionHandlers {
	return &SessionHandlers{
		csrf:          csrf,
		checker:       checker,
		codec:         codec,
		auditLog:      auditLog,
		logger:        logger,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/csrf", h.issueCSRF).Methods(http.MethodGet)
	router.Handle("/api/me", auth.RequireSession(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	router.Handle("/api/access/{level}", auth.RequireSession(http.HandlerFunc(h.access))).Methods(http.MethodGet)
	router.Handle("/api/auth/signout",
		httputil.Chain(h.csrf.Protect, auth.RequireSession)(http.HandlerFunc(h.signOut)),
	).Methods(http.MethodPost)
}

func (h *SessionHandlers) issueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.Issue(w)
	if err != nil {
		h.logger.WithError(err).Error("Failed to issue CSRF token")
		httputil.WriteInternalError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	_ = httputil.WriteSuccess(w, CSRFResponse{CSRFToken: token})
}

func (h *SessionHandlers) me(w http.ResponseWriter, r *http.Request) {
	id, ok := emulation.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	permissions, err := h.checker.Permissions(r.Context(), id.EffectiveRole)
	if err != nil {
		h.logger.WithError(err).WithField("role", id.EffectiveRole).Error("Failed to load permissions")
		httputil.WriteAppError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, MeResponse{
		Identity:     id,
		Tier:         rbac.TierOf(id.EffectiveRole).String(),
		OriginalTier: rbac.TierOf(id.OriginalRole).String(),
		CanEmulate:   rbac.CanEmulate(id.OriginalRole),
		Permissions:  permissions,
	})
}

func (h *SessionHandlers) access(w http.ResponseWriter, r *http.Request) {
	id, ok := emulation.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	raw, ok := httputil.ParsePathStringOrError(w, r, "level")
	if !ok {
		return
	}
	level, err := rbac.ParseLevel(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	_ = httputil.WriteSuccess(w, AccessResponse{
		Level:         level,
		Allowed:       id.CheckAccess(level),
		EffectiveRole: id.EffectiveRole,
	})
}

func (h *SessionHandlers) signOut(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())

	auth.ClearSessionCookies(w, h.secureCookies)
	h.codec.Clear(w)

	event := audit.NewEvent(r.Context(), r, audit.EventTypeAuthLogout, audit.EventStatusSuccess)
	event.UserID = session.UserID
	event.OrganizationID = session.OrgID
	event.OriginalRole = string(session.Role)
	if id, ok := emulation.IdentityFromContext(r.Context()); ok {
		event.EffectiveRole = string(id.EffectiveRole)
		event.Metadata["wasEmulating"] = id.IsEmulated
	}
	event.Message = "Signed out"
	if err := h.auditLog.Log(r.Context(), event); err != nil {
		h.logger.WithError(err).Error("Failed to write audit event")
	}

	_ = httputil.WriteSuccess(w, SuccessResponse{Success: true})
}
