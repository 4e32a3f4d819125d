package emulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/accessgate/pkg/apperrors"
	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/rbac"
)

const (
	DefaultTTL  = 4 * time.Hour
	MinDuration = time.Hour
	MaxDuration = 24 * time.Hour
)

// StartRequest is the body of a start-emulation call.
type StartRequest struct {
	Role             rbac.Role              `json:"role"`
	OrganizationID   string                 `json:"organizationId,omitempty"`
	OrganizationName string                 `json:"organizationName,omitempty"`
	Context          map[string]interface{} `json:"context,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	DurationMinutes  int                    `json:"durationMinutes,omitempty"`
}

// RoleOption describes one role an admin may emulate.
type RoleOption struct {
	Value rbac.Role `json:"value"`
	Label string    `json:"label"`
	Tier  string    `json:"tier"`
}

// Service starts and stops emulation sessions.
type Service struct {
	codec    *CookieCodec
	auditLog audit.Logger
	logger   logrus.FieldLogger
	ttl      time.Duration
	now      func() time.Time
	observe  func(action, result string)
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithTTL sets the default emulation lifetime.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.ttl = ttl }
}

// WithServiceClock overrides the time source.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger logrus.FieldLogger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithEventObserver receives ("start"|"stop", "success"|"rejected"|"error").
func WithEventObserver(fn func(action, result string)) ServiceOption {
	return func(s *Service) { s.observe = fn }
}

// NewService creates a Service. A nil audit logger discards events.
func NewService(codec *CookieCodec, auditLog audit.Logger, opts ...ServiceOption) *Service {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Service{
		codec:    codec,
		auditLog: auditLog,
		logger:   discard,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ttl = clampDuration(s.ttl)
	return s
}

// AvailableRoles lists the roles original may emulate with display labels.
func AvailableRoles(original rbac.Role) []RoleOption {
	roles := rbac.EmulatableRoles(original)
	options := make([]RoleOption, 0, len(roles))
	for _, role := range roles {
		options = append(options, RoleOption{
			Value: role,
			Label: roleLabel(role),
			Tier:  rbac.TierOf(role).String(),
		})
	}
	return options
}

// Start validates req against the caller's real role and returns the new
// emulation with the cookie that carries it.
func (s *Service) Start(ctx context.Context, session *auth.Session, req StartRequest, r *http.Request) (Emulation, *http.Cookie, error) {
	e, err := s.validate(session, req)
	if err != nil {
		s.record("start", "rejected")
		return Emulation{}, nil, err
	}

	cookie, err := s.codec.Cookie(e)
	if err != nil {
		s.record("start", "error")
		return Emulation{}, nil, apperrors.Internal(err)
	}

	event := audit.NewEvent(ctx, r, audit.EventTypeEmulationStart, audit.EventStatusSuccess)
	event.UserID = session.UserID
	event.TargetUserID = session.UserID
	event.OrganizationID = e.OrganizationID
	event.OriginalRole = string(session.Role)
	event.EffectiveRole = string(e.Role)
	event.Message = fmt.Sprintf("Started emulating %s", e.Role)
	event.Metadata["sessionId"] = e.SessionID
	event.Metadata["expiresAt"] = e.ExpiresAt.Format(time.RFC3339)
	s.audit(ctx, event)

	s.logger.WithFields(logrus.Fields{
		"user_id":       session.UserID,
		"original_role": session.Role,
		"emulated_role": e.Role,
		"org_id":        e.OrganizationID,
		"expires_at":    e.ExpiresAt,
	}).Info("Role emulation started")

	s.record("start", "success")
	return e, cookie, nil
}

// Stop clears the emulation cookie and audits the stop. It reports whether
// an emulation was active.
func (s *Service) Stop(ctx context.Context, w http.ResponseWriter, r *http.Request, id Identity) bool {
	s.codec.Clear(w)

	e, active := id.Emulation.Active()

	event := audit.NewEvent(ctx, r, audit.EventTypeEmulationStop, audit.EventStatusSuccess)
	event.UserID = id.UserID
	event.TargetUserID = id.UserID
	event.OrganizationID = id.OriginalOrgID
	event.OriginalRole = string(id.OriginalRole)
	event.EffectiveRole = string(id.EffectiveRole)
	event.Message = "Stopped role emulation"
	event.Metadata["wasActive"] = active
	if active {
		event.Metadata["sessionId"] = e.SessionID
		event.Metadata["durationSeconds"] = int(s.now().Sub(e.StartedAt).Seconds())
	}
	s.audit(ctx, event)

	s.record("stop", "success")
	return active
}

func (s *Service) validate(session *auth.Session, req StartRequest) (Emulation, error) {
	if !rbac.CanEmulate(session.Role) {
		return Emulation{}, apperrors.Forbidden("Only administrators can emulate roles")
	}

	if err := rbac.EmulationAllowed(session.Role, req.Role); err != nil {
		if errors.Is(err, rbac.ErrTierEscalation) {
			return Emulation{}, apperrors.Wrap(apperrors.KindForbidden, "Cannot emulate a role above your own tier", err)
		}
		return Emulation{}, apperrors.Wrap(apperrors.KindValidation, invalidRoleMessage(session.Role), err)
	}

	orgID, orgName := req.OrganizationID, req.OrganizationName
	if session.Role != rbac.RoleSuperAdmin {
		if orgID != "" && orgID != session.OrgID {
			return Emulation{}, apperrors.Forbidden("Cannot emulate a role in another organization")
		}
		orgID = session.OrgID
	}
	if req.Role == rbac.RoleOrgAdmin && orgID == "" {
		return Emulation{}, apperrors.Validation("Organization ID is required for org_admin")
	}

	for key, value := range req.Context {
		if value == nil {
			return Emulation{}, apperrors.Validation(fmt.Sprintf("context property '%s' cannot be null", key))
		}
	}

	duration := s.ttl
	if req.DurationMinutes > 0 {
		duration = clampDuration(time.Duration(req.DurationMinutes) * time.Minute)
	}

	now := s.now().UTC().Truncate(time.Second)
	return Emulation{
		SessionID:        uuid.NewString(),
		UserID:           session.UserID,
		OrganizationID:   orgID,
		OrganizationName: orgName,
		Role:             req.Role,
		OriginalRole:     session.Role,
		Context:          req.Context,
		Metadata:         req.Metadata,
		StartedAt:        now,
		ExpiresAt:        now.Add(duration),
	}, nil
}

func (s *Service) audit(ctx context.Context, event *audit.AuditEvent) {
	if err := s.auditLog.Log(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", event.EventType).Error("Failed to write audit event")
	}
}

func (s *Service) record(action, result string) {
	if s.observe != nil {
		s.observe(action, result)
	}
}

func invalidRoleMessage(original rbac.Role) string {
	roles := rbac.EmulatableRoles(original)
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return "Invalid role. Must be one of: " + strings.Join(names, ", ")
}

func clampDuration(d time.Duration) time.Duration {
	switch {
	case d < MinDuration:
		return MinDuration
	case d > MaxDuration:
		return MaxDuration
	default:
		return d
	}
}

// roleLabel turns id_gen_admin into "Id Gen Admin".
func roleLabel(role rbac.Role) string {
	words := strings.Split(string(role), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
