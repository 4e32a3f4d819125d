package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Store reads and writes the role_permissions table.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PermissionsForRole returns the distinct permissions granted to role.
func (s *Store) PermissionsForRole(ctx context.Context, role Role) ([]Permission, error) {
	query := `
		SELECT DISTINCT permission
		FROM role_permissions
		WHERE role = $1
		ORDER BY permission
	`

	rows, err := s.db.QueryContext(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	perms := make([]Permission, 0)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role permissions: %w", err)
	}

	return perms, nil
}

// GrantPermission adds permission to role. Granting twice is a no-op.
func (s *Store) GrantPermission(ctx context.Context, role Role, permission Permission) error {
	query := `
		INSERT INTO role_permissions (role, permission)
		VALUES ($1, $2)
		ON CONFLICT (role, permission) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, string(role), permission); err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}
	return nil
}

// RevokePermission removes permission from role.
func (s *Store) RevokePermission(ctx context.Context, role Role, permission Permission) error {
	query := `DELETE FROM role_permissions WHERE role = $1 AND permission = $2`
	if _, err := s.db.ExecContext(ctx, query, string(role), permission); err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return nil
}

// Seed grants every permission in table inside a single transaction.
func (s *Store) Seed(ctx context.Context, table map[Role][]Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO role_permissions (role, permission)
		VALUES ($1, $2)
		ON CONFLICT (role, permission) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	roles := make([]Role, 0, len(table))
	for role := range table {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	for _, role := range roles {
		for _, p := range normalize(table[role]) {
			if _, err := stmt.ExecContext(ctx, string(role), p); err != nil {
				return fmt.Errorf("failed to seed %s for %s: %w", p, role, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
