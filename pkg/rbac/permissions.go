package rbac

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Permission is a "resource:action" string such as "template:read".
type Permission = string

const (
	PermTemplateCreate  Permission = "template:create"
	PermTemplateRead    Permission = "template:read"
	PermTemplateUpdate  Permission = "template:update"
	PermTemplateDelete  Permission = "template:delete"
	PermTemplatePublish Permission = "template:publish"

	PermIDCardCreate  Permission = "idcard:create"
	PermIDCardRead    Permission = "idcard:read"
	PermIDCardUpdate  Permission = "idcard:update"
	PermIDCardDelete  Permission = "idcard:delete"
	PermIDCardBulkOps Permission = "idcard:bulk_ops"

	PermOrgRead           Permission = "org:read"
	PermOrgUpdate         Permission = "org:update"
	PermOrgManageUsers    Permission = "org:manage_users"
	PermOrgManageSettings Permission = "org:manage_settings"
	PermOrgViewStats      Permission = "org:view_stats"

	PermAdminManageAllOrgs  Permission = "admin:manage_all_orgs"
	PermAdminImpersonate    Permission = "admin:impersonate"
	PermAdminSystemSettings Permission = "admin:system_settings"
	PermAdminAuditLogs      Permission = "admin:audit_logs"

	PermBillingView   Permission = "billing:view"
	PermBillingManage Permission = "billing:manage"
)

// Source is the authoritative role to permission table.
type Source interface {
	PermissionsForRole(ctx context.Context, role Role) ([]Permission, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, role Role) ([]Permission, error)

func (f SourceFunc) PermissionsForRole(ctx context.Context, role Role) ([]Permission, error) {
	return f(ctx, role)
}

// StaticSource serves permissions from an in-memory table, usually loaded
// from YAML when no database is configured.
type StaticSource struct {
	permissions map[Role][]Permission
}

// staticFile is the on-disk layout:
//
//	roles:
//	  org_admin: [template:read, org:update]
type staticFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// NewStaticSource copies table into a new source.
func NewStaticSource(table map[Role][]Permission) *StaticSource {
	s := &StaticSource{permissions: make(map[Role][]Permission, len(table))}
	for role, perms := range table {
		s.permissions[role] = normalize(perms)
	}
	return s
}

// ParseStaticSource decodes a YAML permission table.
func ParseStaticSource(data []byte) (*StaticSource, error) {
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse permission table: %w", err)
	}

	table := make(map[Role][]Permission, len(f.Roles))
	for name, perms := range f.Roles {
		role := Role(name)
		if !IsKnown(role) {
			return nil, fmt.Errorf("permission table references %w: %q", ErrUnknownRole, name)
		}
		table[role] = perms
	}
	return NewStaticSource(table), nil
}

// LoadStaticSource reads a YAML permission table from path.
func LoadStaticSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission table: %w", err)
	}
	return ParseStaticSource(data)
}

// PermissionsForRole returns a copy of the permissions for role.
func (s *StaticSource) PermissionsForRole(_ context.Context, role Role) ([]Permission, error) {
	perms := s.permissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out, nil
}

// Table returns a copy of the full table.
func (s *StaticSource) Table() map[Role][]Permission {
	out := make(map[Role][]Permission, len(s.permissions))
	for role, perms := range s.permissions {
		cp := make([]Permission, len(perms))
		copy(cp, perms)
		out[role] = cp
	}
	return out
}

// MarshalYAML renders the table in the same layout ParseStaticSource reads.
func (s *StaticSource) MarshalYAML() (interface{}, error) {
	f := staticFile{Roles: make(map[string][]string, len(s.permissions))}
	for role, perms := range s.permissions {
		f.Roles[string(role)] = perms
	}
	return f, nil
}

// normalize deduplicates and sorts perms.
func normalize(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

var (
	templateAll = []Permission{PermTemplateCreate, PermTemplateRead, PermTemplateUpdate, PermTemplateDelete, PermTemplatePublish}
	idcardAll   = []Permission{PermIDCardCreate, PermIDCardRead, PermIDCardUpdate, PermIDCardDelete, PermIDCardBulkOps}
	orgAll      = []Permission{PermOrgRead, PermOrgUpdate, PermOrgManageUsers, PermOrgManageSettings, PermOrgViewStats}
	adminAll    = []Permission{PermAdminManageAllOrgs, PermAdminImpersonate, PermAdminSystemSettings, PermAdminAuditLogs}
	billingAll  = []Permission{PermBillingView, PermBillingManage}
)

func concat(groups ...[]Permission) []Permission {
	var out []Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultPermissions is the built-in role to permission table.
func DefaultPermissions() map[Role][]Permission {
	orgAdmin := concat(templateAll, idcardAll, orgAll, []Permission{PermAdminAuditLogs}, billingAll)
	return map[Role][]Permission{
		RoleSuperAdmin:      concat(templateAll, idcardAll, orgAll, adminAll, billingAll),
		RoleOrgAdmin:        orgAdmin,
		RoleIDGenAdmin:      orgAdmin,
		RolePropertyAdmin:   concat([]Permission{PermOrgRead, PermOrgUpdate, PermOrgManageUsers, PermOrgManageSettings, PermOrgViewStats}, billingAll),
		RolePropertyManager: {PermOrgRead, PermOrgUpdate, PermOrgManageUsers, PermOrgViewStats, PermBillingView},
		RoleEventAdmin:      {PermOrgRead, PermOrgUpdate, PermOrgManageUsers, PermOrgViewStats},

		RoleIDGenTemplateDesigner: {PermTemplateCreate, PermTemplateRead, PermTemplateUpdate, PermOrgRead},
		RoleIDGenEncoder:          {PermTemplateRead, PermIDCardCreate, PermIDCardRead, PermIDCardUpdate, PermIDCardBulkOps, PermOrgRead},
		RoleIDGenPrinter:          {PermTemplateRead, PermIDCardRead, PermOrgRead},
		RoleIDGenAccountant:       {PermBillingView, PermBillingManage, PermOrgRead, PermOrgViewStats},
		RolePropertyMaintenance:   {PermOrgRead},
		RolePropertyUtility:       {PermOrgRead},
		RolePropertyFrontdesk:     {PermOrgRead},
		RoleEventQRChecker:        {PermOrgRead},

		RoleIDGenViewer:    {PermTemplateRead, PermIDCardRead, PermOrgRead},
		RoleIDGenAuditor:   {PermTemplateRead, PermIDCardRead, PermOrgRead, PermOrgViewStats, PermAdminAuditLogs},
		RoleIDGenUser:      {PermTemplateRead, PermIDCardCreate, PermIDCardRead},
		RoleUser:           {PermTemplateRead, PermIDCardCreate, PermIDCardRead},
		RolePropertyTenant: {PermOrgRead},
	}
}

// DefaultStaticSource returns a StaticSource over DefaultPermissions.
func DefaultStaticSource() *StaticSource {
	return NewStaticSource(DefaultPermissions())
}
