package syncpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_ReadMissingReturnsNotOK(t *testing.T) {
	s := NewMemStore()
	_, ok, err := s.ReadSyncPoint(Key{ConnectorID: "c1", OrgID: "o1", DataPointType: "DRIVE", Scope: "users_u1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemStore_UpdateThenRead(t *testing.T) {
	s := NewMemStore()
	key := Key{ConnectorID: "c1", OrgID: "o1", DataPointType: "DRIVE", Scope: "users_u1"}
	require.NoError(t, s.UpdateSyncPoint(key, CursorPoint{Cursor: "abc"}.ToMap()))

	data, ok, err := s.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, ok)
	cp, ok := CursorPointFrom(data)
	require.True(t, ok)
	assert.Equal(t, "abc", cp.Cursor)
}

func TestMemStore_ReadReturnsCopyNotPartial(t *testing.T) {
	s := NewMemStore()
	key := Key{ConnectorID: "c1", OrgID: "o1", DataPointType: "LINEAR", Scope: "team_eng"}
	require.NoError(t, s.UpdateSyncPoint(key, WatermarkPoint{LastSyncTimeMs: 100}.ToMap()))

	data, _, _ := s.ReadSyncPoint(key)
	data["last_sync_time"] = int64(999) // mutate the copy

	fresh, _, _ := s.ReadSyncPoint(key)
	wp, _ := WatermarkPointFrom(fresh)
	assert.Equal(t, int64(100), wp.LastSyncTimeMs, "mutating a read result must not affect stored state")
}
