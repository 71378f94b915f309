package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/store"
	"eve.evalgo.org/ingest/store/storetest"
)

func newFileRecord(connectorID, externalID, name, rev string) *model.Record {
	return &model.Record{
		EntityMeta: model.EntityMeta{
			OrgID:       "org1",
			ConnectorID: connectorID,
			ExternalID:  externalID,
		},
		RecordType:         model.RecordTypeFile,
		RecordName:         name,
		ExternalRevisionID: rev,
		IndexingStatus:     model.IndexingStatusNotIndexed,
		Payload:            &model.FileRecord{SizeInBytes: 10, IsFile: true},
	}
}

func TestOnNewRecords_NewRecordGetsVersionZeroAndIndexingEvent(t *testing.T) {
	s := storetest.New()
	bus := NewBus()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })
	p := New(s, bus, nil)

	rec := newFileRecord("c1", "ext-A", "A.txt", "1")
	err := p.OnNewRecords(context.Background(), []RecordSubmission{{Record: rec, Permissions: []model.Permission{
		{EntityType: model.PermissionEntityUser, Email: "u@example.com", Type: model.PermissionOwner},
	}}})
	require.NoError(t, err)

	stored := s.AllRecords("c1")
	require.Len(t, stored, 1)
	assert.Equal(t, int64(0), stored[0].Version)

	var sawNew, sawIndexing bool
	for _, e := range events {
		if e.Kind == EventNewRecords {
			sawNew = true
		}
		if e.Kind == EventIndexingRequested {
			sawIndexing = true
		}
	}
	assert.True(t, sawNew)
	assert.True(t, sawIndexing)
}

func TestOnNewRecords_ContentChangeBumpsVersionAndMarksBothChanged(t *testing.T) {
	s := storetest.New()
	p := New(s, NewBus(), nil)
	ctx := context.Background()

	first := newFileRecord("c1", "ext-A", "A.txt", "1")
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: first}}))

	second := newFileRecord("c1", "ext-A", "A2.txt", "2")
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: second}}))

	stored := s.AllRecords("c1")
	require.Len(t, stored, 1)
	assert.Equal(t, int64(1), stored[0].Version)
	assert.Equal(t, "A2.txt", stored[0].RecordName)
}

func TestOnNewRecords_NoChangeIsNoOp(t *testing.T) {
	s := storetest.New()
	bus := NewBus()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })
	p := New(s, bus, nil)
	ctx := context.Background()

	rec := newFileRecord("c1", "ext-B", "B.pdf", "1")
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: rec}}))
	events = nil // reset after the "new" event

	same := newFileRecord("c1", "ext-B", "B.pdf", "1")
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: same}}))

	stored := s.AllRecords("c1")
	require.Len(t, stored, 1)
	assert.Equal(t, int64(0), stored[0].Version, "re-observing an unchanged record must not bump version")
	assert.Empty(t, events, "re-observing an unchanged record must not publish events")
}

func TestOnNewRecords_ChildQueuedUntilParentArrives(t *testing.T) {
	s := storetest.New()
	p := New(s, NewBus(), nil)
	ctx := context.Background()

	child := newFileRecord("c1", "child-1", "child.txt", "1")
	child.ParentExternalRecordID = "parent-1"
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: child}}))
	assert.Empty(t, s.Relations(), "child must not be linked before its parent exists")

	parent := newFileRecord("c1", "parent-1", "parentdir", "1")
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: parent}}))

	assert.Len(t, s.Relations(), 1, "child must be linked once its parent is written")
}

func TestOnNewRecords_PermissionsChangedDetectedByDiff(t *testing.T) {
	s := storetest.New()
	p := New(s, NewBus(), nil)
	ctx := context.Background()

	rec := newFileRecord("c1", "ext-C", "C.png", "1")
	perms := []model.Permission{{EntityType: model.PermissionEntityUser, Email: "u@example.com", Type: model.PermissionRead}}
	require.NoError(t, p.OnNewRecords(ctx, []RecordSubmission{{Record: rec, Permissions: perms}}))

	rec2 := newFileRecord("c1", "ext-C", "C.png", "1")
	samePerms := []model.Permission{{EntityType: model.PermissionEntityUser, Email: "u@example.com", Type: model.PermissionRead}}
	bus := NewBus()
	var events []Event
	bus.Subscribe(func(e Event) { events = append(events, e) })
	p2 := New(s, bus, nil)
	require.NoError(t, p2.OnNewRecords(ctx, []RecordSubmission{{Record: rec2, Permissions: samePerms}}))
	for _, e := range events {
		assert.NotEqual(t, EventRecordPermissionsUpdate, e.Kind, "identical permission set must not be reported as changed")
	}
}

func TestReplacePermissions_DiffsEdgesRatherThanBlindReplace(t *testing.T) {
	s := storetest.New()
	tx, err := s.BeginTransaction(context.Background())
	require.NoError(t, err)
	p := New(s, NewBus(), nil)

	err = p.replacePermissions(context.Background(), tx, store.ResourceRecord, "r1", []model.Permission{
		{EntityType: model.PermissionEntityUser, Email: "a@example.com", Type: model.PermissionRead},
		{EntityType: model.PermissionEntityUser, Email: "b@example.com", Type: model.PermissionWrite},
	})
	require.NoError(t, err)

	err = p.replacePermissions(context.Background(), tx, store.ResourceRecord, "r1", []model.Permission{
		{EntityType: model.PermissionEntityUser, Email: "a@example.com", Type: model.PermissionRead},
		{EntityType: model.PermissionEntityUser, Email: "c@example.com", Type: model.PermissionRead},
	})
	require.NoError(t, err)

	edges, err := tx.GetPermissionsForResource(context.Background(), store.ResourceRecord, "r1")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	assert.Len(t, edges, 2)
	var emails []string
	for _, e := range edges {
		emails = append(emails, e.FromEntityID)
	}
	assert.Contains(t, emails, "a@example.com")
	assert.Contains(t, emails, "c@example.com")
	assert.NotContains(t, emails, "b@example.com")
}
