// Package gitlab implements the GitLab connectors/* Driver: Pattern C
// (issue updated_at timestamp high-watermark) per project. Enrichment
// connector per SPEC_FULL.md, grounded on forge/gitlab.go's real
// gitlab.com/gitlab-org/api/client-go client construction
// (gitlab.NewClient(token, gitlab.WithBaseURL(url+"/api/v4"))).
package gitlab

import (
	"context"
	"strconv"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/processor"
)

const perPage = 100

// Driver implements connector.Driver for a GitLab instance, one project per scope.
type Driver struct {
	RT       *connector.Runtime
	Client   *gitlab.Client
	Projects []string // "group/project" path or numeric ID as string
}

// New builds a Driver from a client constructed the way
// forge.GitlabRunners builds one.
func New(rt *connector.Runtime, client *gitlab.Client, projects []string) *Driver {
	return &Driver{RT: rt, Client: client, Projects: projects}
}

func (d *Driver) Init(ctx context.Context) (bool, error) {
	return d.TestConnectionAndAccess(ctx)
}

func (d *Driver) TestConnectionAndAccess(ctx context.Context) (bool, error) {
	if err := d.RT.Acquire(ctx); err != nil {
		return false, connector.ErrTransient
	}
	if _, _, err := d.Client.Users.CurrentUser(); err != nil {
		return false, connector.ErrNeedsReauth
	}
	return true, nil
}

type watermarkFetcher struct {
	d       *Driver
	project string
}

func (f watermarkFetcher) FetchSince(ctx context.Context, sinceMs int64) (connector.WatermarkBatch, error) {
	if err := f.d.RT.Acquire(ctx); err != nil {
		return connector.WatermarkBatch{}, connector.ErrTransient
	}
	since := msToTime(sinceMs)
	issues, resp, err := f.d.Client.Issues.ListProjectIssues(f.project, &gitlab.ListProjectIssuesOptions{
		ListOptions:  gitlab.ListOptions{PerPage: perPage, Page: 1},
		UpdatedAfter: &since,
		OrderBy:      gitlab.Ptr("updated_at"),
		Sort:         gitlab.Ptr("asc"),
	})
	if err != nil {
		return connector.WatermarkBatch{}, classify(resp, err)
	}
	entries := make([]any, len(issues))
	maxUpdated := sinceMs
	for i, iss := range issues {
		entries[i] = iss
		if iss.UpdatedAt != nil {
			ms := iss.UpdatedAt.UnixMilli()
			if ms > maxUpdated {
				maxUpdated = ms
			}
		}
	}
	return connector.WatermarkBatch{Entries: entries, MaxUpdatedAtMs: maxUpdated, HasMore: len(issues) == perPage}, nil
}

func classify(resp *gitlab.Response, err error) error {
	if resp == nil {
		return connector.ErrTransient
	}
	switch resp.StatusCode {
	case 401, 403:
		return connector.ErrNeedsReauth
	case 404:
		return connector.ErrEntityMissing
	case 429:
		return connector.ErrTransient
	default:
		if resp.StatusCode >= 500 {
			return connector.ErrTransient
		}
		return err
	}
}

func (d *Driver) RunSync(ctx context.Context) error            { return d.runProjects(ctx) }
func (d *Driver) RunIncrementalSync(ctx context.Context) error { return d.runProjects(ctx) }

func (d *Driver) runProjects(ctx context.Context) error {
	errs := d.RT.FanOutScopes(ctx, d.Projects, func(ctx context.Context, project string) error {
		key := d.RT.SyncPointKey("TICKETS", project)
		return connector.RunPatternC(ctx, d.RT.SyncPoints, key, watermarkFetcher{d: d, project: project}, func(ctx context.Context, entries []any) error {
			return d.processIssues(ctx, project, entries)
		})
	})
	if len(errs) == 0 {
		return nil
	}
	for _, err := range errs {
		return err
	}
	return nil
}

func (d *Driver) processIssues(ctx context.Context, project string, entries []any) error {
	subs := make([]processor.RecordSubmission, 0, len(entries))
	for _, e := range entries {
		iss, ok := e.(*gitlab.Issue)
		if !ok {
			continue
		}
		subs = append(subs, processor.RecordSubmission{Record: toTicketRecord(project, iss)})
	}
	if len(subs) == 0 {
		return nil
	}
	return d.RT.Processor.OnNewRecords(ctx, subs)
}

func toTicketRecord(project string, iss *gitlab.Issue) *model.Record {
	var createdMs, updatedMs int64
	if iss.CreatedAt != nil {
		createdMs = iss.CreatedAt.UnixMilli()
	}
	if iss.UpdatedAt != nil {
		updatedMs = iss.UpdatedAt.UnixMilli()
	}
	var assignee string
	if iss.Assignee != nil {
		assignee = iss.Assignee.Username
	}
	return &model.Record{
		EntityMeta: model.EntityMeta{
			ConnectorName:   "GITLAB",
			ExternalID:      project + "#" + strconv.Itoa(iss.IID),
			SourceCreatedAt: createdMs,
			SourceUpdatedAt: updatedMs,
		},
		RecordType:            model.RecordTypeTicket,
		RecordName:            iss.Title,
		RecordGroupType:       model.RecordGroupProject,
		ExternalRecordGroupID: project,
		WebURL:                iss.WebURL,
		Payload: &model.TicketRecord{
			Status:        iss.State,
			Type:          "ISSUE",
			AssigneeEmail: assignee,
		},
	}
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
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
