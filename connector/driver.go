// Package connector implements C4: the abstract per-connector-instance
// lifecycle (init -> run_sync -> run_incremental_sync -> handle_webhook ->
// cleanup), its rate limiter, its SyncPoints, and the three formal
// incremental-sync loops of §4.1 (Pattern A/B/C) that every concrete
// connectors/* implementation plugs into.
package connector

import (
	"context"
	"io"

	"eve.evalgo.org/ingest/model"
)

// StreamingResponse is the result of StreamRecord: a chunked reader plus the
// metadata needed to set response headers (§4.4).
type StreamingResponse struct {
	Body            io.ReadCloser
	ContentType     string
	ContentDisposition string
	SizeBytes       int64 // 0 if unknown (chunked transfer)
}

// FilterOptionsResponse is the paged answer to get_filter_options (§6).
type FilterOptionsResponse struct {
	Options    []FilterOption
	NextCursor string
	HasMore    bool
	Total      int
}

// FilterOption is one selectable value (a team id, a folder id, a label) for a
// sync/indexing filter.
type FilterOption struct {
	Value string
	Label string
}

// Pagination is the page/limit/search triple used by get_filter_options.
type Pagination struct {
	Page   int
	Limit  int
	Search string
	Cursor string
}

// Driver is the Connector Driver Interface of §6, implemented once per source
// under connectors/*.
type Driver interface {
	Init(ctx context.Context) (bool, error)
	RunSync(ctx context.Context) error
	RunIncrementalSync(ctx context.Context) error
	HandleWebhookNotification(ctx context.Context, n WebhookNotification) error
	TestConnectionAndAccess(ctx context.Context) (bool, error)
	StreamRecord(ctx context.Context, record *model.Record, convertTo *string) (*StreamingResponse, error)
	GetSignedURL(ctx context.Context, record *model.Record) (string, bool, error)
	ReindexRecords(ctx context.Context, records []*model.Record) error
	Cleanup(ctx context.Context) error
	GetFilterOptions(ctx context.Context, filterKey string, page Pagination) (FilterOptionsResponse, error)
}

// WebhookNotification is the provider-agnostic envelope the intake (C8) hands
// to a connector's HandleWebhookNotification. Raw carries the verified,
// decoded body (JSON-decoded Admin/Linear payload or base64-decoded Gmail
// Pub/Sub payload).
type WebhookNotification struct {
	Provider string
	Raw      map[string]any
}
