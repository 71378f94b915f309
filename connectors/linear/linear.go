// Package linear implements the Linear connectors/* Driver: Pattern C
// (issue.updatedAt timestamp high-watermark) per team/project scope.
// Grounded on original_source/backend/python/app/connectors/sources/linear/connector.py.
package linear

import (
	"context"
	"fmt"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/processor"
)

// Issue is the subset of a Linear GraphQL issue node this connector needs.
type Issue struct {
	ID            string
	Identifier    string
	Title         string
	State         string
	Priority      string
	AssigneeEmail string
	AssigneeName  string
	CreatorEmail  string
	CreatorName   string
	TeamID        string
	UpdatedAtMs   int64
	CreatedAtMs   int64
	URL           string
}

// API is the subset of Linear's GraphQL surface this connector calls.
// gitlab.com/gitlab-org/api/client-go and code.gitea.io/sdk/gitea show the
// pattern of wrapping a source's native client behind a small Go interface
// like this one; Linear has no official Go SDK in the retrieved corpus, so
// this talks to Linear's GraphQL endpoint directly.
type API interface {
	ListTeams(ctx context.Context) ([]string, error)
	IssuesUpdatedSince(ctx context.Context, teamID string, sinceMs int64, after string) (issues []Issue, endCursor string, hasNextPage bool, err error)
}

// Driver implements connector.Driver for Linear.
type Driver struct {
	RT  *connector.Runtime
	API API
}

func New(rt *connector.Runtime, api API) *Driver {
	return &Driver{RT: rt, API: api}
}

func (d *Driver) Init(ctx context.Context) (bool, error) {
	return d.TestConnectionAndAccess(ctx)
}

func (d *Driver) TestConnectionAndAccess(ctx context.Context) (bool, error) {
	if err := d.RT.Acquire(ctx); err != nil {
		return false, connector.ErrTransient
	}
	if _, err := d.API.ListTeams(ctx); err != nil {
		return false, err
	}
	return true, nil
}

type watermarkFetcher struct {
	d      *Driver
	teamID string
}

// FetchSince walks every GraphQL page for this team in one call so
// RunPatternC's per-batch checkpoint is still based on one coherent page;
// Linear's endCursor pagination is internal to a single watermark query, not
// a separate mechanism the engine needs to track (the team's own sync point
// only ever records the timestamp, never a GraphQL cursor).
func (f watermarkFetcher) FetchSince(ctx context.Context, sinceMs int64) (connector.WatermarkBatch, error) {
	var all []any
	var maxUpdated int64 = sinceMs
	after := ""
	for {
		if err := f.d.RT.Acquire(ctx); err != nil {
			return connector.WatermarkBatch{}, connector.ErrTransient
		}
		issues, endCursor, hasNext, err := f.d.API.IssuesUpdatedSince(ctx, f.teamID, sinceMs, after)
		if err != nil {
			return connector.WatermarkBatch{}, err
		}
		for _, iss := range issues {
			all = append(all, iss)
			if iss.UpdatedAtMs > maxUpdated {
				maxUpdated = iss.UpdatedAtMs
			}
		}
		if !hasNext {
			break
		}
		after = endCursor
	}
	return connector.WatermarkBatch{Entries: all, MaxUpdatedAtMs: maxUpdated, HasMore: false}, nil
}

func (d *Driver) RunSync(ctx context.Context) error {
	return d.runAllTeams(ctx)
}

func (d *Driver) RunIncrementalSync(ctx context.Context) error {
	return d.runAllTeams(ctx)
}

func (d *Driver) runAllTeams(ctx context.Context) error {
	if err := d.RT.Acquire(ctx); err != nil {
		return connector.ErrTransient
	}
	teams, err := d.API.ListTeams(ctx)
	if err != nil {
		return err
	}
	errs := d.RT.FanOutScopes(ctx, teams, func(ctx context.Context, teamID string) error {
		key := d.RT.SyncPointKey("TICKETS", teamID)
		return connector.RunPatternC(ctx, d.RT.SyncPoints, key, watermarkFetcher{d: d, teamID: teamID}, d.processIssues)
	})
	if len(errs) > 0 {
		return fmt.Errorf("linear: %d team(s) failed", len(errs))
	}
	return nil
}

func (d *Driver) processIssues(ctx context.Context, entries []any) error {
	subs := make([]processor.RecordSubmission, 0, len(entries))
	for _, e := range entries {
		iss, ok := e.(Issue)
		if !ok {
			continue
		}
		subs = append(subs, processor.RecordSubmission{Record: toTicketRecord(iss)})
	}
	if len(subs) == 0 {
		return nil
	}
	return d.RT.Processor.OnNewRecords(ctx, subs)
}

func toTicketRecord(iss Issue) *model.Record {
	return &model.Record{
		EntityMeta: model.EntityMeta{
			ConnectorName:   "LINEAR",
			ExternalID:      iss.ID,
			SourceCreatedAt: iss.CreatedAtMs,
			SourceUpdatedAt: iss.UpdatedAtMs,
		},
		RecordType:            model.RecordTypeTicket,
		RecordName:            iss.Identifier + " " + iss.Title,
		RecordGroupType:       model.RecordGroupProject,
		ExternalRecordGroupID: iss.TeamID,
		WebURL:                iss.URL,
		Payload: &model.TicketRecord{
			Status:        iss.State,
			Priority:      iss.Priority,
			Type:          "ISSUE",
			Assignee:      iss.AssigneeName,
			AssigneeEmail: iss.AssigneeEmail,
			CreatorEmail:  iss.CreatorEmail,
			CreatorName:   iss.CreatorName,
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
