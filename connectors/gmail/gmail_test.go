package gmail

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/processor"
	"eve.evalgo.org/ingest/ratelimit"
	"eve.evalgo.org/ingest/syncpoint"
)

func TestStableAttachmentID(t *testing.T) {
	assert.Equal(t, "msg123_0.1", StableAttachmentID("msg123", "0.1"))
}

func TestExtensionOf(t *testing.T) {
	assert.Equal(t, "pdf", extensionOf("invoice.PDF"))
	assert.Equal(t, "", extensionOf("noext"))
	assert.Equal(t, "", extensionOf("trailing."))
}

func TestToAttachmentRecord_InheritsParentMessageIDAndMarksDependent(t *testing.T) {
	msg := Message{ID: "msg1", InternalDateMs: 1000}
	att := Attachment{PartID: "0.1", Filename: "report.pdf", MimeType: "application/pdf", SizeBytes: 512}

	record := toAttachmentRecord(msg, att)
	assert.Equal(t, "msg1_0.1", record.ExternalID)
	assert.Equal(t, "msg1", record.ParentExternalRecordID)
	assert.True(t, record.IsDependentNode)

	f, ok := record.AsFile()
	assert.True(t, ok)
	assert.Equal(t, "pdf", f.Extension)
	assert.Equal(t, int64(512), f.SizeInBytes)
}

func TestToMailRecord_CarriesThreadAndHeaders(t *testing.T) {
	msg := Message{ID: "msg1", ThreadID: "thread1", Subject: "Hi", From: "a@x.com", To: []string{"b@x.com"}}
	record, perms := toMailRecord(msg)
	assert.Nil(t, perms)
	m, ok := record.AsMail()
	assert.True(t, ok)
	assert.Equal(t, "thread1", m.ThreadID)
	assert.Equal(t, "a@x.com", m.FromEmail)
}

// fakeGmailAPI is a test double for the API interface gmail.Driver calls, in the style of
// fakeLinearAPI in connectors/linear/linear_test.go.
type fakeGmailAPI struct {
	messages       map[string]Message
	byInternetID   map[string]Message
	attachmentData map[string][]byte // key: messageID+"/"+attachmentID
}

func (f *fakeGmailAPI) ListHistorySince(ctx context.Context, startHistoryID string) ([]Message, string, bool, error) {
	return nil, "", false, nil
}

func (f *fakeGmailAPI) ListAllMessages(ctx context.Context, pageToken string) ([]Message, string, error) {
	return nil, "", nil
}

func (f *fakeGmailAPI) CurrentHistoryID(ctx context.Context) (string, error) { return "h1", nil }

func (f *fakeGmailAPI) GetMessage(ctx context.Context, messageID string) (Message, error) {
	msg, ok := f.messages[messageID]
	if !ok {
		return Message{}, connector.ErrEntityMissing
	}
	return msg, nil
}

func (f *fakeGmailAPI) GetMessageByInternetID(ctx context.Context, internetMessageID string) (Message, bool, error) {
	msg, ok := f.byInternetID[internetMessageID]
	if !ok {
		return Message{}, false, nil
	}
	return msg, true, nil
}

func (f *fakeGmailAPI) GetAttachmentData(ctx context.Context, messageID, attachmentID string) ([]byte, string, error) {
	data, ok := f.attachmentData[messageID+"/"+attachmentID]
	if !ok {
		return nil, "", connector.ErrEntityMissing
	}
	return data, "application/pdf", nil
}

func newTestDriver(api API) *Driver {
	rt := connector.NewRuntime(connector.InstanceConfig{ConnectorID: "c1", ConnectorName: "GMAIL", OrgID: "org1"},
		syncpoint.NewMemStore(), ratelimit.New(ratelimit.GmailDefault), nil, processor.New(nil, nil, nil), nil)
	return &Driver{RT: rt, API: api}
}

func TestStreamRecord_DirectHit(t *testing.T) {
	msg := Message{
		ID:                "msg1",
		InternetMessageID: "<a@mail>",
		Attachments:       []Attachment{{AttachmentID: "att-volatile-1", PartID: "0.1", Filename: "report.pdf"}},
	}
	api := &fakeGmailAPI{
		messages:       map[string]Message{"msg1": msg},
		attachmentData: map[string][]byte{"msg1/att-volatile-1": []byte("pdf-bytes")},
	}
	d := newTestDriver(api)
	record := toAttachmentRecord(msg, msg.Attachments[0])

	resp, err := d.StreamRecord(context.Background(), record, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(body))
	assert.Equal(t, int64(len("pdf-bytes")), resp.SizeBytes)
}

func TestStreamRecord_FallsBackToSiblingMessageOn404(t *testing.T) {
	// The attachment record was minted against "msg1", but that message id has
	// since 404'd; the owning message now lives under "msg2" with the same
	// Internet-Message-ID, and the part's volatile attachmentId has rotated.
	staleMsg := Message{ID: "msg1", InternetMessageID: "<a@mail>"}
	currentMsg := Message{
		ID:                "msg2",
		InternetMessageID: "<a@mail>",
		Attachments:       []Attachment{{AttachmentID: "att-volatile-2", PartID: "0.1", Filename: "report.pdf"}},
	}
	api := &fakeGmailAPI{
		messages:       map[string]Message{}, // "msg1" intentionally absent -> 404
		byInternetID:   map[string]Message{"<a@mail>": currentMsg},
		attachmentData: map[string][]byte{"msg2/att-volatile-2": []byte("pdf-bytes-2")},
	}
	d := newTestDriver(api)
	record := toAttachmentRecord(staleMsg, Attachment{PartID: "0.1", Filename: "report.pdf"})

	resp, err := d.StreamRecord(context.Background(), record, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes-2", string(body))
}

func TestStreamRecord_MissingWithoutInternetMessageIDPropagatesWithoutFallback(t *testing.T) {
	// No Internet-Message-ID on the owning message -> fallback is never attempted.
	staleMsg := Message{ID: "msg1"}
	api := &fakeGmailAPI{messages: map[string]Message{}} // GetMessage returns ErrEntityMissing
	d := newTestDriver(api)
	record := toAttachmentRecord(staleMsg, Attachment{PartID: "0.1", Filename: "report.pdf"})

	_, err := d.StreamRecord(context.Background(), record, nil)
	assert.ErrorIs(t, err, connector.ErrEntityMissing)
}
