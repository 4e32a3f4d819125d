package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the role_permissions table read by DBSource and written by
// Store. Each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS role_permissions (
		id BIGSERIAL PRIMARY KEY,
		role VARCHAR(64) NOT NULL,
		permission VARCHAR(128) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE(role, permission)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_role_permissions_role ON role_permissions(role)`,
}

// ApplyMigrations creates the permission schema. It is safe to run on every
// start.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply permission schema step %d: %w", i+1, err)
		}
	}
	return nil
}
