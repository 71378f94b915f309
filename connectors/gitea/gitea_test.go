package gitea

import (
	"testing"
	"time"

	"code.gitea.io/sdk/gitea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToTicketRecord_MapsIssueFields(t *testing.T) {
	iss := &gitea.Issue{
		Index:   42,
		Title:   "Build is red",
		State:   gitea.StateOpen,
		HTMLURL: "https://git.example.com/acme/widgets/issues/42",
		Created: time.UnixMilli(1000),
		Updated: time.UnixMilli(2000),
	}
	record := toTicketRecord("acme", "widgets", iss)
	assert.Equal(t, "acme/widgets#42", record.ExternalID)
	assert.Equal(t, int64(2000), record.SourceUpdatedAt)
	assert.Equal(t, "acme/widgets", record.ExternalRecordGroupID)

	ticket, ok := record.AsTicket()
	require.True(t, ok)
	assert.Equal(t, "open", ticket.Status)
}

func TestMsToTime_ZeroIsZeroValue(t *testing.T) {
	assert.True(t, msToTime(0).IsZero())
	assert.Equal(t, int64(5000), msToTime(5000).UnixMilli())
}
