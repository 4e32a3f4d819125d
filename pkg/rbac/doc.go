// Package rbac provides role tiers, the authorization gate and role
// permission lookups for accessgate.
//
// # Overview
//
// Every role belongs to at most one of three tiers:
//
//	admin  - super_admin, org_admin, property_admin, property_manager, event_admin, id_gen_admin
//	staff  - property_maintenance, property_utility, property_frontdesk, event_qr_checker,
//	         id_gen_encoder, id_gen_printer, id_gen_template_designer, id_gen_accountant
//	view   - property_tenant, user, id_gen_viewer, id_gen_auditor, id_gen_user
//
// Tiers nest: an admin role passes admin, staff and view checks; a staff role
// passes staff and view; a view role passes view only. A role that is empty or
// not listed fails every check.
//
//	rbac.CheckAccess(rbac.RoleOrgAdmin, rbac.LevelStaff)    // true
//	rbac.CheckAccess(rbac.RoleUser, rbac.LevelStaff)        // false
//	rbac.CheckAccess("", rbac.LevelView)                    // false
//
// # Emulation Policy
//
// EmulationAllowed decides whether a user whose real role is original may act
// as another role. Only admin-tier roles may emulate, super_admin can never be
// a target, and the target's tier may not exceed the original's tier.
//
// # Permissions
//
// Fine-grained "resource:action" permissions come from a Source: the
// role_permissions table (Store) or a YAML file (StaticSource). Checker puts a
// Cache in front of the source:
//
//	checker := rbac.NewChecker(
//		rbac.NewStore(db),
//		rbac.NewMemoryCache(rbac.MemoryCacheConfig{TTL: 5 * time.Minute}),
//		rbac.WithGuard(dbBreaker),
//	)
//	ok, err := checker.HasPermission(ctx, rbac.RoleIDGenEncoder, rbac.PermIDCardCreate)
//
// A cached entry is served only while now - timestamp < TTL. There is no push
// invalidation; call Checker.Invalidate after editing role_permissions.
//
// Without a database the table can come from a FileSource, which Watch
// reloads when the file changes:
//
//	src, err := rbac.NewFileSource("permissions.yaml", logger)
//	checker := rbac.NewChecker(src, cache)
//	err = src.Watch(ctx, func() { checker.Clear(ctx) })
package rbac
