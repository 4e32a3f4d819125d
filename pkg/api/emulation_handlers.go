package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/emulation"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/middleware"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// Rate limit endpoint names for the emulation controls.
const (
	StartEmulationEndpoint = "admin:start-emulation"
	StopEmulationEndpoint  = "admin:stop-emulation"

	emulationStartedMessage = "Role emulation started - reload the page for changes to take effect"
)

// CurrentEmulation summarizes the active emulation of the caller.
type CurrentEmulation struct {
	EmulatedRole   rbac.Role `json:"emulatedRole"`
	OriginalRole   rbac.Role `json:"originalRole"`
	OrganizationID string    `json:"organizationId,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// EmulationStatusResponse is the body of GET /api/admin/emulation.
type EmulationStatusResponse struct {
	AvailableRoles   []emulation.RoleOption `json:"availableRoles"`
	CurrentEmulation *CurrentEmulation      `json:"currentEmulation"`
}

// StartEmulationResponse is the body of a successful start.
type StartEmulationResponse struct {
	Success        bool      `json:"success"`
	Emulating      rbac.Role `json:"emulating"`
	OrganizationID string    `json:"organizationId,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Message        string    `json:"message"`
}

// EmulationHandlers serves the admin emulation controls. Authorization uses
// the original role so an emulating admin can always stop.
type EmulationHandlers struct {
	service   *emulation.Service
	gate      *middleware.Gate
	csrf      *middleware.CSRF
	rateLimit func(endpoint string) func(http.Handler) http.Handler
	logger    logrus.FieldLogger
}

// NewEmulationHandlers creates emulation handlers. rateLimit builds the
// limiter middleware for an endpoint name.
func NewEmulationHandlers(service *emulation.Service, gate *middleware.Gate, csrf *middleware.CSRF, rateLimit func(endpoint string) func(http.Handler) http.Handler, logger logrus.FieldLogger) *EmulationHandlers {
	return &EmulationHandlers{
		service:   service,
		gate:      gate,
		csrf:      csrf,
		rateLimit: rateLimit,
		logger:    logger,
	}
}

// RegisterRoutes registers emulation routes
func (h *EmulationHandlers) RegisterRoutes(router *mux.Router) {
	originalAdmin := h.gate.RequireOriginalLevel(rbac.LevelAdmin)

	router.Handle("/api/admin/emulation",
		httputil.Chain(auth.RequireSession, originalAdmin)(http.HandlerFunc(h.status)),
	).Methods(http.MethodGet)

	// CSRF is checked before the session, then the limiter, then the role.
	router.Handle("/api/admin/start-emulation",
		httputil.Chain(h.csrf.Protect, auth.RequireSession, h.rateLimit(StartEmulationEndpoint), originalAdmin)(http.HandlerFunc(h.start)),
	).Methods(http.MethodPost)
	router.Handle("/api/admin/stop-emulation",
		httputil.Chain(h.csrf.Protect, auth.RequireSession, h.rateLimit(StopEmulationEndpoint), originalAdmin)(http.HandlerFunc(h.stop)),
	).Methods(http.MethodPost)
}

func (h *EmulationHandlers) status(w http.ResponseWriter, r *http.Request) {
	id, ok := emulation.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	resp := EmulationStatusResponse{
		AvailableRoles: emulation.AvailableRoles(id.OriginalRole),
	}
	if e, active := id.Emulation.Active(); active {
		resp.CurrentEmulation = &CurrentEmulation{
			EmulatedRole:   e.Role,
			OriginalRole:   e.OriginalRole,
			OrganizationID: e.OrganizationID,
			ExpiresAt:      e.ExpiresAt,
		}
	}
	_ = httputil.WriteSuccess(w, resp)
}

func (h *EmulationHandlers) start(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	var req emulation.StartRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	e, cookie, err := h.service.Start(r.Context(), session, req, r)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindInternal {
			h.logger.WithError(err).WithField("user_id", session.UserID).Error("Failed to start role emulation")
		}
		httputil.WriteAppError(w, err)
		return
	}

	http.SetCookie(w, cookie)
	_ = httputil.WriteSuccess(w, StartEmulationResponse{
		Success:        true,
		Emulating:      e.Role,
		OrganizationID: e.OrganizationID,
		ExpiresAt:      e.ExpiresAt,
		Message:        emulationStartedMessage,
	})
}

func (h *EmulationHandlers) stop(w http.ResponseWriter, r *http.Request) {
	id, ok := emulation.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, apperrors.Unauthorized("Authentication required"))
		return
	}

	message := "Role emulation stopped"
	if !h.service.Stop(r.Context(), w, r, *id) {
		message = "No active role emulation"
	}
	_ = httputil.WriteSuccess(w, SuccessResponse{Success: true, Message: message})
}
