package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStore_PermissionsForRole(t *testing.T) {
	store, mock := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"permission"}).
		AddRow("idcard:read").
		AddRow("template:read")
	mock.ExpectQuery("SELECT DISTINCT permission\\s+FROM role_permissions\\s+WHERE role = \\$1").
		WithArgs("id_gen_printer").
		WillReturnRows(rows)

	perms, err := store.PermissionsForRole(context.Background(), RoleIDGenPrinter)
	require.NoError(t, err)
	assert.Equal(t, []Permission{"idcard:read", "template:read"}, perms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PermissionsForRole_Empty(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT permission").
		WithArgs("user").
		WillReturnRows(sqlmock.NewRows([]string{"permission"}))

	perms, err := store.PermissionsForRole(context.Background(), RoleUser)
	require.NoError(t, err)
	assert.NotNil(t, perms)
	assert.Empty(t, perms)
}

func TestStore_PermissionsForRole_Errors(t *testing.T) {
	t.Run("query error", func(t *testing.T) {
		store, mock := setupMockStore(t)
		mock.ExpectQuery("SELECT DISTINCT permission").
			WillReturnError(errors.New("connection reset"))

		_, err := store.PermissionsForRole(context.Background(), RoleUser)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to query role permissions")
	})

	t.Run("row error", func(t *testing.T) {
		store, mock := setupMockStore(t)
		rows := sqlmock.NewRows([]string{"permission"}).
			AddRow("a").
			RowError(0, errors.New("bad row"))
		mock.ExpectQuery("SELECT DISTINCT permission").WillReturnRows(rows)

		_, err := store.PermissionsForRole(context.Background(), RoleUser)
		assert.Error(t, err)
	})
}

func TestStore_GrantRevoke(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs("user", "template:read").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM role_permissions").
		WithArgs("user", "template:read").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.GrantPermission(context.Background(), RoleUser, "template:read"))
	require.NoError(t, store.RevokePermission(context.Background(), RoleUser, "template:read"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Seed(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO role_permissions")
	prep.ExpectExec().WithArgs("org_admin", "org:read").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("user", "idcard:read").WillReturnResult(sqlmock.NewResult(2, 1))
	prep.ExpectExec().WithArgs("user", "template:read").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	err := store.Seed(context.Background(), map[Role][]Permission{
		RoleUser:     {"template:read", "idcard:read"},
		RoleOrgAdmin: {"org:read"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SeedRollsBackOnError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO role_permissions")
	prep.ExpectExec().WithArgs("user", "template:read").WillReturnError(errors.New("constraint"))
	mock.ExpectRollback()

	err := store.Seed(context.Background(), map[Role][]Permission{RoleUser: {"template:read"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_role_permissions_role").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, ApplyMigrations(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX").WillReturnError(errors.New("permission denied"))

	err = ApplyMigrations(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
}
