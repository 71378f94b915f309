//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/store"
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

func TestIntegration_UpsertAndFetchRecordRoundTrips(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s, err := Open(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)

	rec := &model.Record{
		EntityMeta: model.EntityMeta{
			ID:            uuid.New(),
			ConnectorID:   "conn1",
			ConnectorName: "LINEAR",
			ExternalID:    "ISSUE-42",
		},
		RecordType: model.RecordTypeTicket,
		RecordName: "Ship the feature",
		Payload:    &model.TicketRecord{Status: "open"},
	}
	require.NoError(t, tx.BatchUpsertRecords(ctx, []*model.Record{rec}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	got, found, err := tx2.GetRecordByExternalID(ctx, "conn1", "ISSUE-42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Ship the feature", got.RecordName)
	ticket, ok := got.AsTicket()
	require.True(t, ok)
	assert.Equal(t, "open", ticket.Status)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestIntegration_GetRecordByIDFindsWhatBatchUpsertWrote(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s, err := Open(dsn)
	require.NoError(t, err)
	ctx := context.Background()

	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)

	id := uuid.New()
	rec := &model.Record{
		EntityMeta: model.EntityMeta{
			ID:            id,
			OrgID:         "org1",
			ConnectorID:   "conn1",
			ConnectorName: "GITEA",
			ExternalID:    "repo/issue-1",
		},
		RecordType: model.RecordTypeTicket,
		RecordName: "Fix the bug",
	}
	require.NoError(t, tx.BatchUpsertRecords(ctx, []*model.Record{rec}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	got, found, err := tx2.GetRecordByID(ctx, "org1", id.String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Fix the bug", got.RecordName)

	_, found, err = tx2.GetRecordByID(ctx, "some-other-org", id.String())
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, tx2.Rollback(ctx))
}

func TestIntegration_PermissionEdgesCreateAndDelete(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s, err := Open(dsn)
	require.NoError(t, err)
	ctx := context.Background()

	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)

	edge := store.PermissionEdge{
		FromEntityType: model.PermissionEntityUser,
		FromEntityID:   "user-1",
		ToResourceKind: store.ResourceRecord,
		ToResourceID:   "record-1",
		Type:           model.PermissionRead,
	}
	require.NoError(t, tx.BatchCreateEdges(ctx, []store.PermissionEdge{edge}, store.CollectionPermissions))

	edges, err := tx.GetPermissionsForResource(ctx, store.ResourceRecord, "record-1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "user-1", edges[0].FromEntityID)

	require.NoError(t, tx.DeleteEdge(ctx, edge, store.CollectionPermissions))
	edges, err = tx.GetPermissionsForResource(ctx, store.ResourceRecord, "record-1")
	require.NoError(t, err)
	assert.Len(t, edges, 0)

	require.NoError(t, tx.Commit(ctx))
}
