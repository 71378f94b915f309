// Package servicenow implements the ServiceNow connectors/* Driver: Pattern C
// (sys_updated_on timestamp high-watermark, one page from offset 0 per batch;
// later pages come from the advanced watermark) for incident/article records. Grounded on
// original_source/backend/python/app/connectors/sources/servicenow/servicenow/connector.py.
package servicenow

import (
	"context"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/processor"
)

// Record is the subset of a ServiceNow table row (incident, kb_knowledge)
// this connector needs, already flattened from sysparm_fields.
type Record struct {
	SysID         string
	Table         string // "incident", "kb_knowledge", ...
	Name          string
	State         string
	Priority      string
	AssigneeEmail string
	CreatedAtMs   int64
	UpdatedAtMs   int64
}

// API is the subset of the ServiceNow Table REST API this connector calls.
type API interface {
	TestAccess(ctx context.Context) error
	// QueryUpdatedSince returns one offset page ordered by sys_updated_on ASC.
	QueryUpdatedSince(ctx context.Context, table string, sinceMs int64, offset, limit int) ([]Record, error)
}

const batchSize = 200

// Driver implements connector.Driver for ServiceNow.
type Driver struct {
	RT     *connector.Runtime
	API    API
	Tables []string // e.g. {"incident", "kb_knowledge"}
}

func New(rt *connector.Runtime, api API, tables []string) *Driver {
	return &Driver{RT: rt, API: api, Tables: tables}
}

func (d *Driver) Init(ctx context.Context) (bool, error) {
	return d.TestConnectionAndAccess(ctx)
}

func (d *Driver) TestConnectionAndAccess(ctx context.Context) (bool, error) {
	if err := d.RT.Acquire(ctx); err != nil {
		return false, connector.ErrTransient
	}
	if err := d.API.TestAccess(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type watermarkFetcher struct {
	d     *Driver
	table string
}

// FetchSince fetches one page of up to batchSize rows from offset 0 after
// sinceMs; HasMore is set when the page is full, and RunPatternC asks for the
// next page with the advanced watermark. The checkpoint only ever reflects
// source_updated_at, never an offset.
func (f watermarkFetcher) FetchSince(ctx context.Context, sinceMs int64) (connector.WatermarkBatch, error) {
	if err := f.d.RT.Acquire(ctx); err != nil {
		return connector.WatermarkBatch{}, connector.ErrTransient
	}
	rows, err := f.d.API.QueryUpdatedSince(ctx, f.table, sinceMs, 0, batchSize)
	if err != nil {
		return connector.WatermarkBatch{}, err
	}
	entries := make([]any, len(rows))
	maxUpdated := sinceMs
	for i, r := range rows {
		entries[i] = r
		if r.UpdatedAtMs > maxUpdated {
			maxUpdated = r.UpdatedAtMs
		}
	}
	return connector.WatermarkBatch{Entries: entries, MaxUpdatedAtMs: maxUpdated, HasMore: len(rows) == batchSize}, nil
}

func (d *Driver) RunSync(ctx context.Context) error {
	return d.runTables(ctx)
}

func (d *Driver) RunIncrementalSync(ctx context.Context) error {
	return d.runTables(ctx)
}

func (d *Driver) runTables(ctx context.Context) error {
	errs := d.RT.FanOutScopes(ctx, d.Tables, func(ctx context.Context, table string) error {
		key := d.RT.SyncPointKey("TICKETS", table)
		return connector.RunPatternC(ctx, d.RT.SyncPoints, key, watermarkFetcher{d: d, table: table}, d.processRecords)
	})
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		return err
	}
	return nil
}

func (d *Driver) processRecords(ctx context.Context, entries []any) error {
	subs := make([]processor.RecordSubmission, 0, len(entries))
	for _, e := range entries {
		rec, ok := e.(Record)
		if !ok {
			continue
		}
		subs = append(subs, processor.RecordSubmission{Record: toTicketRecord(rec)})
	}
	if len(subs) == 0 {
		return nil
	}
	return d.RT.Processor.OnNewRecords(ctx, subs)
}

func toTicketRecord(r Record) *model.Record {
	return &model.Record{
		EntityMeta: model.EntityMeta{
			ConnectorName:   "SERVICENOW",
			ExternalID:      r.SysID,
			SourceCreatedAt: r.CreatedAtMs,
			SourceUpdatedAt: r.UpdatedAtMs,
		},
		RecordType:      model.RecordTypeTicket,
		RecordName:      r.Name,
		RecordGroupType: recordGroupTypeFor(r.Table),
		Payload: &model.TicketRecord{
			Status:        r.State,
			Priority:      r.Priority,
			Type:          r.Table,
			AssigneeEmail: r.AssigneeEmail,
		},
	}
}

func recordGroupTypeFor(table string) model.RecordGroupType {
	if table == "kb_knowledge" {
		return model.RecordGroupServiceNowKB
	}
	return model.RecordGroupServiceNowCategory
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
