//go:build integration

package rbac

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/accessgate/pkg/breaker"
)

// startPermissionDB runs Postgres in a container and applies the permission
// schema. The container is terminated when the test ends.
func startPermissionDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("accessgate_test"),
		postgres.WithUsername("accessgate"),
		postgres.WithPassword("accessgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	require.NoError(t, err, "postgres container")
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(stopCtx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, ApplyMigrations(ctx, db))
	return db
}

func TestStoreIntegration_SeedAndRead(t *testing.T) {
	db := startPermissionDB(t)
	ctx := context.Background()
	store := NewStore(db)

	require.NoError(t, store.Seed(ctx, DefaultPermissions()))
	require.NoError(t, store.Seed(ctx, DefaultPermissions()), "seeding twice")
	require.NoError(t, ApplyMigrations(ctx, db), "schema twice")

	for role, want := range DefaultStaticSource().Table() {
		got, err := store.PermissionsForRole(ctx, role)
		require.NoError(t, err)
		assert.Equal(t, want, got, role)
	}

	require.NoError(t, store.RevokePermission(ctx, RoleUser, PermIDCardCreate))
	got, err := store.PermissionsForRole(ctx, RoleUser)
	require.NoError(t, err)
	assert.NotContains(t, got, PermIDCardCreate)
}

func TestStoreIntegration_CheckerThroughBreaker(t *testing.T) {
	db := startPermissionDB(t)
	ctx := context.Background()
	store := NewStore(db)
	require.NoError(t, store.Seed(ctx, DefaultPermissions()))

	guard := breaker.New(breaker.Config{Name: "database", DefaultTimeout: 2 * time.Second})
	checker := NewChecker(store, NewMemoryCache(MemoryCacheConfig{TTL: time.Hour}), WithGuard(guard))

	ok, err := checker.HasPermission(ctx, RoleUser, PermIDCardCreate)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.RevokePermission(ctx, RoleUser, PermIDCardCreate))
	ok, err = checker.HasPermission(ctx, RoleUser, PermIDCardCreate)
	require.NoError(t, err)
	assert.True(t, ok, "cached grant survives until invalidated")

	checker.Invalidate(ctx, RoleUser)
	ok, err = checker.HasPermission(ctx, RoleUser, PermIDCardCreate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, breaker.StateClosed, guard.State())
}

func TestStoreIntegration_ClosedDatabase(t *testing.T) {
	db := startPermissionDB(t)
	ctx := context.Background()
	store := NewStore(db)
	require.NoError(t, db.Close())

	guard := breaker.New(breaker.Config{Name: "database", FailureThreshold: 1, Cooldown: time.Minute})
	checker := NewChecker(store, nil, WithGuard(guard))

	_, err := checker.Permissions(ctx, RoleUser)
	require.Error(t, err)
	assert.Equal(t, breaker.StateOpen, guard.State())

	_, err = checker.Permissions(ctx, RoleUser)
	assert.ErrorIs(t, err, breaker.ErrCircuitOpen)
}
