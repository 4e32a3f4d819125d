package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestOpen_NotConfigured(t *testing.T) {
	db, err := Open(context.Background(), ConnectionConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, db)
}

func TestOpen_Unreachable(t *testing.T) {
	db, err := Open(context.Background(), ConnectionConfig{
		PrimaryURL: "postgres://nonexistent:9999/testdb?connect_timeout=1&sslmode=disable",
		Timeout:    2 * time.Second,
	})
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestNewConnectionManager_NotConfigured(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cm, err := NewConnectionManager(context.Background(), ConnectionConfig{}, logger)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, cm)
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas - fallback to primary", func(t *testing.T) {
		primaryDB := &sql.DB{}
		cm := &ConnectionManager{primary: primaryDB}

		assert.Equal(t, primaryDB, cm.Replica())
		assert.Equal(t, 0, cm.ReplicaCount())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}

		seen := map[*sql.DB]int{}
		for i := 0; i < 10; i++ {
			seen[cm.Replica()]++
		}
		assert.Equal(t, 5, seen[r1])
		assert.Equal(t, 5, seen[r2])
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	logger, hook := test.NewNullLogger()

	healthy, healthyMock := newPingMock(t)
	broken, brokenMock := newPingMock(t)

	healthyMock.ExpectPing()
	brokenMock.ExpectPing().WillReturnError(errors.New("connection refused"))
	brokenMock.ExpectClose()

	cm := &ConnectionManager{
		primary:  &sql.DB{},
		replicas: []*sql.DB{healthy, broken},
		logger:   logger,
	}

	removed := cm.RemoveUnhealthyReplicas(context.Background())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cm.ReplicaCount())
	assert.Equal(t, healthy, cm.Replica())

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Removed unhealthy read replicas", hook.LastEntry().Message)
	assert.NoError(t, healthyMock.ExpectationsWereMet())
	assert.NoError(t, brokenMock.ExpectationsWereMet())
}

func TestConnectionManager_Close(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)

	primaryMock.ExpectClose()
	replicaMock.ExpectClose()

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}

	require.NoError(t, cm.Close())
	assert.Equal(t, 0, cm.ReplicaCount())
	assert.NoError(t, primaryMock.ExpectationsWereMet())
	assert.NoError(t, replicaMock.ExpectationsWereMet())
}
