package msgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFileRecord_MapsDriveItem(t *testing.T) {
	item := DriveItem{ID: "item1", Name: "plan.docx", ParentID: "folder1", SizeBytes: 100, LastModifiedMs: 999}
	record := toFileRecord(item)
	assert.Equal(t, "item1", record.ExternalID)
	assert.Equal(t, "folder1", record.ParentExternalRecordID)

	f, ok := record.AsFile()
	assert.True(t, ok)
	assert.Equal(t, int64(100), f.SizeInBytes)
}

func TestToAny_PreservesOrder(t *testing.T) {
	items := []DriveItem{{ID: "a"}, {ID: "b"}}
	out := toAny(items)
	assert.Len(t, out, 2)
	assert.Equal(t, "a", out[0].(DriveItem).ID)
}
