//go:build integration

package syncpoint

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())
	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestIntegration_PostgresStore_ReadAfterUpdate(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := OpenPostgresStore(dsn)
	require.NoError(t, err)

	key := Key{ConnectorID: "conn1", OrgID: "org1", DataPointType: "DRIVE_files", Scope: "root"}

	_, found, err := store.ReadSyncPoint(key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.UpdateSyncPoint(key, CursorPoint{Cursor: "abc123"}.ToMap()))

	data, found, err := store.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, found)
	cp, ok := CursorPointFrom(data)
	require.True(t, ok)
	assert.Equal(t, "abc123", cp.Cursor)

	require.NoError(t, store.UpdateSyncPoint(key, CursorPoint{Cursor: "def456"}.ToMap()))
	data, found, err = store.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, found)
	cp, ok = CursorPointFrom(data)
	require.True(t, ok)
	assert.Equal(t, "def456", cp.Cursor)
}
