package servicenow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGroupTypeFor(t *testing.T) {
	assert.Equal(t, "SERVICENOWKB", string(recordGroupTypeFor("kb_knowledge")))
	assert.Equal(t, "SERVICENOW_CATEGORY", string(recordGroupTypeFor("incident")))
}

func TestToTicketRecord_MapsSysFields(t *testing.T) {
	r := Record{SysID: "sys1", Table: "incident", Name: "Printer down", State: "open", Priority: "3", UpdatedAtMs: 42}
	record := toTicketRecord(r)
	assert.Equal(t, "sys1", record.ExternalID)
	assert.Equal(t, int64(42), record.SourceUpdatedAt)

	ticket, ok := record.AsTicket()
	require.True(t, ok)
	assert.Equal(t, "incident", ticket.Type)
}
