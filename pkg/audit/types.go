package audit

import (
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Admin events
	EventTypeEmulationStart       EventType = "admin.emulation_start"
	EventTypeEmulationStop        EventType = "admin.emulation_stop"
	EventTypePermissionCacheClear EventType = "admin.permission_cache_clear"

	// Authentication events
	EventTypeAuthLogout EventType = "auth.logout"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Security events
	EventTypeCSRFFailure EventType = "security.csrf_failure"
	EventTypeRateLimited EventType = "security.rate_limited"
)

// EventStatus represents the outcome of an audited action
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	TargetUserID   string `json:"target_user_id,omitempty"`

	// Roles at the time of the event
	OriginalRole  string `json:"original_role,omitempty"`
	EffectiveRole string `json:"effective_role,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	UserID     string
	EventTypes []EventType
	Status     *EventStatus

	Limit  int
	Offset int
}

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// EffectiveLimit is the page size Search applies: Limit, or 100 when unset,
// capped at 1000.
func (f SearchFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return defaultSearchLimit
	case f.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return f.Limit
	}
}
