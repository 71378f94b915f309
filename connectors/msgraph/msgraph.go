// Package msgraph implements the Microsoft 365 (SharePoint/OneDrive)
// connectors/* Driver: Pattern B (Graph delta query, deltaLink as the event
// cursor) for drive items. Enrichment connector per SPEC_FULL.md — it exists
// to exercise the msgraph-sdk-go + azidentity stack the teacher already
// depends on (cloud/azuregraph.go) but never wires into an incremental sync
// loop of its own.
package msgraph

import (
	"context"

	azidentity "github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/processor"
)

// DriveItem is the subset of a Graph driveItem resource this connector needs.
type DriveItem struct {
	ID             string
	Name           string
	ParentID       string
	WebURL         string
	MimeType       string
	SizeBytes      int64
	SHA256Hash     string
	LastModifiedMs int64
	Deleted        bool
}

// NewGraphClient builds an authenticated Graph client using the same
// client-credentials flow as cloud/azuregraph.go.
func NewGraphClient(tenantID, clientID, clientSecret string) (*msgraphsdk.GraphServiceClient, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, err
	}
	return msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
}

// API is the drive-delta surface this connector drives Pattern B against.
// A concrete implementation walks graphClient.Drives().ByDriveId(id).Items().
// ByDriveItemId("root").Delta() the way cloud/azuregraph.go walks
// Users().ByUserId(...).MailFolders(); kept behind this interface so the
// sync-loop logic here is exercised independently of live Graph calls.
type API interface {
	DeltaSince(ctx context.Context, driveID, deltaLink string) (items []DriveItem, nextDeltaLink string, hasMore bool, err error)
}

// Driver implements connector.Driver for SharePoint/OneDrive via Graph.
type Driver struct {
	RT      *connector.Runtime
	API     API
	DriveID string
}

func New(rt *connector.Runtime, api API, driveID string) *Driver {
	return &Driver{RT: rt, API: api, DriveID: driveID}
}

func (d *Driver) Init(ctx context.Context) (bool, error) {
	return d.TestConnectionAndAccess(ctx)
}

func (d *Driver) TestConnectionAndAccess(ctx context.Context) (bool, error) {
	if err := d.RT.Acquire(ctx); err != nil {
		return false, connector.ErrTransient
	}
	_, _, _, err := d.API.DeltaSince(ctx, d.DriveID, "")
	if err != nil {
		return false, err
	}
	return true, nil
}

type eventLogFetcher struct{ d *Driver }

func (f eventLogFetcher) InitCursorToNow(ctx context.Context) (string, error) {
	if err := f.d.RT.Acquire(ctx); err != nil {
		return "", connector.ErrTransient
	}
	_, next, _, err := f.d.API.DeltaSince(ctx, f.d.DriveID, "")
	return next, err
}

func (f eventLogFetcher) FetchSince(ctx context.Context, cursor string) (connector.EventPage, error) {
	if err := f.d.RT.Acquire(ctx); err != nil {
		return connector.EventPage{}, connector.ErrTransient
	}
	items, next, hasMore, err := f.d.API.DeltaSince(ctx, f.d.DriveID, cursor)
	if err != nil {
		return connector.EventPage{}, err
	}
	entries := make([]any, len(items))
	for i, it := range items {
		entries[i] = it
	}
	return connector.EventPage{Entries: entries, Next: next, HasMore: hasMore}, nil
}

func (f eventLogFetcher) FullSync(ctx context.Context) error {
	deltaLink := ""
	for {
		if err := f.d.RT.Acquire(ctx); err != nil {
			return connector.ErrTransient
		}
		items, next, hasMore, err := f.d.API.DeltaSince(ctx, f.d.DriveID, deltaLink)
		if err != nil {
			return err
		}
		if err := f.d.processItems(ctx, toAny(items)); err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
		deltaLink = next
	}
}

func toAny(items []DriveItem) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func (d *Driver) RunSync(ctx context.Context) error { return d.runIncremental(ctx) }

func (d *Driver) RunIncrementalSync(ctx context.Context) error { return d.runIncremental(ctx) }

func (d *Driver) runIncremental(ctx context.Context) error {
	key := d.RT.SyncPointKey("FILES", d.DriveID)
	return connector.RunPatternB(ctx, d.RT.SyncPoints, key, eventLogFetcher{d: d}, d.processItems)
}

func (d *Driver) processItems(ctx context.Context, entries []any) error {
	subs := make([]processor.RecordSubmission, 0, len(entries))
	for _, e := range entries {
		item, ok := e.(DriveItem)
		if !ok || item.Deleted {
			continue
		}
		subs = append(subs, processor.RecordSubmission{Record: toFileRecord(item)})
	}
	if len(subs) == 0 {
		return nil
	}
	return d.RT.Processor.OnNewRecords(ctx, subs)
}

func toFileRecord(item DriveItem) *model.Record {
	return &model.Record{
		EntityMeta: model.EntityMeta{
			ConnectorName:   "MSGRAPH",
			ExternalID:      item.ID,
			SourceUpdatedAt: item.LastModifiedMs,
		},
		RecordType:             model.RecordTypeFile,
		RecordName:             item.Name,
		RecordGroupType:        model.RecordGroupDrive,
		ParentExternalRecordID: item.ParentID,
		WebURL:                 item.WebURL,
		MimeType:               item.MimeType,
		Payload: &model.FileRecord{
			SizeInBytes: item.SizeBytes,
			SHA256Hash:  item.SHA256Hash,
			IsFile:      true,
		},
	}
}

func (d *Driver) HandleWebhookNotification(ctx context.Context, n connector.WebhookNotification) error {
	return d.RunIncrementalSync(ctx)
}

func (d *Driver) StreamRecord(ctx context.Context, record *model.Record, convertTo *string) (*connector.StreamingResponse, error) {
	return nil, connector.ErrEntityMissing
}

func (d *Driver) GetSignedURL(ctx context.Context, record *model.Record) (string, bool, error) {
	return "", false, nil
}

func (d *Driver) ReindexRecords(ctx context.Context, records []*model.Record) error { return nil }
func (d *Driver) Cleanup(ctx context.Context) error                                { return nil }
func (d *Driver) GetFilterOptions(ctx context.Context, filterKey string, page connector.Pagination) (connector.FilterOptionsResponse, error) {
	return connector.FilterOptionsResponse{}, nil
}
