package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role is the role tag carried by a session or an emulation record.
type Role string

// Built-in role names
const (
	RoleSuperAdmin      Role = "super_admin"
	RoleOrgAdmin        Role = "org_admin"
	RolePropertyAdmin   Role = "property_admin"
	RolePropertyManager Role = "property_manager"
	RoleEventAdmin      Role = "event_admin"
	RoleIDGenAdmin      Role = "id_gen_admin"

	RolePropertyMaintenance   Role = "property_maintenance"
	RolePropertyUtility       Role = "property_utility"
	RolePropertyFrontdesk     Role = "property_frontdesk"
	RoleEventQRChecker        Role = "event_qr_checker"
	RoleIDGenEncoder          Role = "id_gen_encoder"
	RoleIDGenPrinter          Role = "id_gen_printer"
	RoleIDGenTemplateDesigner Role = "id_gen_template_designer"
	RoleIDGenAccountant       Role = "id_gen_accountant"

	RolePropertyTenant Role = "property_tenant"
	RoleUser           Role = "user"
	RoleIDGenViewer    Role = "id_gen_viewer"
	RoleIDGenAuditor   Role = "id_gen_auditor"
	RoleIDGenUser      Role = "id_gen_user"
)

// Level is the access level a route requires.
type Level string

const (
	LevelAdmin Level = "admin"
	LevelStaff Level = "staff"
	LevelView  Level = "view"
)

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelAdmin, LevelStaff, LevelView:
		return l, nil
	default:
		return "", fmt.Errorf("invalid access level %q: must be one of admin, staff, view", s)
	}
}

// Tier ranks roles. A higher tier passes every check a lower tier passes.
type Tier int

const (
	TierNone Tier = iota
	TierView
	TierStaff
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierView:
		return "view"
	case TierStaff:
		return "staff"
	case TierAdmin:
		return "admin"
	default:
		return "none"
	}
}

var levelTiers = map[Level]Tier{
	LevelAdmin: TierAdmin,
	LevelStaff: TierStaff,
	LevelView:  TierView,
}

// roleTiers is the static tier table. Roles not listed have TierNone.
var roleTiers = map[Role]Tier{
	RoleSuperAdmin:      TierAdmin,
	RoleOrgAdmin:        TierAdmin,
	RolePropertyAdmin:   TierAdmin,
	RolePropertyManager: TierAdmin,
	RoleEventAdmin:      TierAdmin,
	RoleIDGenAdmin:      TierAdmin,

	RolePropertyMaintenance:   TierStaff,
	RolePropertyUtility:       TierStaff,
	RolePropertyFrontdesk:     TierStaff,
	RoleEventQRChecker:        TierStaff,
	RoleIDGenEncoder:          TierStaff,
	RoleIDGenPrinter:          TierStaff,
	RoleIDGenTemplateDesigner: TierStaff,
	RoleIDGenAccountant:       TierStaff,

	RolePropertyTenant: TierView,
	RoleUser:           TierView,
	RoleIDGenViewer:    TierView,
	RoleIDGenAuditor:   TierView,
	RoleIDGenUser:      TierView,
}

// TierOf returns the tier of role, TierNone for unknown roles.
func TierOf(role Role) Tier {
	return roleTiers[role]
}

// IsKnown reports whether role appears in a tier table.
func IsKnown(role Role) bool {
	_, ok := roleTiers[role]
	return ok
}

// CheckAccess reports whether role satisfies level. An empty or unknown
// role fails every level, as does an unknown level.
func CheckAccess(role Role, level Level) bool {
	required, ok := levelTiers[level]
	if !ok || role == "" {
		return false
	}
	return TierOf(role) >= required
}

func rolesWithTier(tier Tier) []Role {
	roles := make([]Role, 0)
	for role, t := range roleTiers {
		if t == tier {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// AdminRoles returns the admin-tier roles, sorted.
func AdminRoles() []Role { return rolesWithTier(TierAdmin) }

// StaffRoles returns the staff-tier roles, sorted.
func StaffRoles() []Role { return rolesWithTier(TierStaff) }

// ViewRoles returns the view-tier roles, sorted.
func ViewRoles() []Role { return rolesWithTier(TierView) }

// AllRoles returns every known role, sorted.
func AllRoles() []Role {
	roles := make([]Role, 0, len(roleTiers))
	for role := range roleTiers {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

var (
	ErrUnknownRole           = errors.New("unknown role")
	ErrRoleNotEmulatable     = errors.New("role cannot be emulated")
	ErrEmulationNotPermitted = errors.New("role is not permitted to emulate")
	ErrTierEscalation        = errors.New("emulated role exceeds the original role's tier")
)

// CanEmulate reports whether a user holding role may start emulation.
func CanEmulate(role Role) bool {
	return TierOf(role) == TierAdmin
}

// EmulatableRoles returns the roles an emulation may target for original,
// sorted. The result is empty when original may not emulate at all.
func EmulatableRoles(original Role) []Role {
	roles := make([]Role, 0)
	for _, role := range AllRoles() {
		if EmulationAllowed(original, role) == nil {
			roles = append(roles, role)
		}
	}
	return roles
}

// EmulationAllowed checks that a user whose real role is original may act
// as target. The target must be known, must not be super_admin and must not
// rank above original.
func EmulationAllowed(original, target Role) error {
	if !IsKnown(target) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, target)
	}
	if target == RoleSuperAdmin {
		return fmt.Errorf("%w: %s", ErrRoleNotEmulatable, target)
	}
	if !CanEmulate(original) {
		return fmt.Errorf("%w: %q", ErrEmulationNotPermitted, original)
	}
	if TierOf(target) > TierOf(original) {
		return fmt.Errorf("%w: %s (%s) > %s (%s)", ErrTierEscalation, target, TierOf(target), original, TierOf(original))
	}
	return nil
}
