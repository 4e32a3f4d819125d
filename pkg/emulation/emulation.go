package emulation

import (
	"encoding/json"
	"time"

	"github.com/platinummonkey/accessgate/pkg/rbac"
)

// Emulation is an admin temporarily acting as another role, and possibly
// another organization.
type Emulation struct {
	SessionID        string                 `json:"sessionId"`
	UserID           string                 `json:"userId"`
	OrganizationID   string                 `json:"organizationId,omitempty"`
	OrganizationName string                 `json:"organizationName,omitempty"`
	Role             rbac.Role              `json:"role"`
	OriginalRole     rbac.Role              `json:"originalRole"`
	Context          map[string]interface{} `json:"context,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	StartedAt        time.Time              `json:"startedAt"`
	ExpiresAt        time.Time              `json:"expiresAt"`
}

// Expired reports whether the emulation has lapsed at now.
func (e Emulation) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// State is either no emulation or an active one. The zero value is None.
type State struct {
	active    bool
	emulation Emulation
}

// None returns the inactive state.
func None() State {
	return State{}
}

// Active returns a state carrying e.
func Active(e Emulation) State {
	return State{active: true, emulation: e}
}

// Active returns the emulation and true when one is in effect.
func (s State) Active() (Emulation, bool) {
	return s.emulation, s.active
}

// IsActive reports whether an emulation is in effect.
func (s State) IsActive() bool {
	return s.active
}

// MarshalJSON encodes None as null and Active as the emulation record.
func (s State) MarshalJSON() ([]byte, error) {
	if !s.active {
		return []byte("null"), nil
	}
	return json.Marshal(s.emulation)
}
