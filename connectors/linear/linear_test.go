package linear

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/processor"
	"eve.evalgo.org/ingest/ratelimit"
	"eve.evalgo.org/ingest/syncpoint"
)

func TestToTicketRecord_MapsIssueFields(t *testing.T) {
	iss := Issue{ID: "iss1", Identifier: "ENG-12", Title: "Fix bug", State: "In Progress", TeamID: "team1", UpdatedAtMs: 5000}
	record := toTicketRecord(iss)
	assert.Equal(t, "iss1", record.ExternalID)
	assert.Equal(t, "ENG-12 Fix bug", record.RecordName)
	assert.Equal(t, "team1", record.ExternalRecordGroupID)

	ticket, ok := record.AsTicket()
	require.True(t, ok)
	assert.Equal(t, "In Progress", ticket.Status)
}

type fakeLinearAPI struct {
	pages map[string][]Issue
}

func (f *fakeLinearAPI) ListTeams(ctx context.Context) ([]string, error) {
	return []string{"team1"}, nil
}

func (f *fakeLinearAPI) IssuesUpdatedSince(ctx context.Context, teamID string, sinceMs int64, after string) ([]Issue, string, bool, error) {
	return f.pages[teamID], "", false, nil
}

func TestWatermarkFetcher_TracksMaxUpdatedAtAcrossIssues(t *testing.T) {
	api := &fakeLinearAPI{pages: map[string][]Issue{
		"team1": {
			{ID: "a", UpdatedAtMs: 100},
			{ID: "b", UpdatedAtMs: 300},
			{ID: "c", UpdatedAtMs: 200},
		},
	}}
	rt := connector.NewRuntime(connector.InstanceConfig{ConnectorID: "c1", ConnectorName: "LINEAR", OrgID: "org1"},
		syncpoint.NewMemStore(), ratelimit.New(ratelimit.LinearDefault), nil, processor.New(nil, nil, nil), nil)
	d := &Driver{RT: rt, API: api}
	batch, err := watermarkFetcher{d: d, teamID: "team1"}.FetchSince(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(300), batch.MaxUpdatedAtMs)
	assert.Len(t, batch.Entries, 3)
}
