// Package gitea implements the Gitea connectors/* Driver: Pattern C
// (issue.Updated timestamp high-watermark) per repository. Enrichment
// connector per SPEC_FULL.md, grounded on forge/gitea.go's real
// code.gitea.io/sdk/gitea client construction.
package gitea

import (
	"context"
	"strconv"
	"time"

	"code.gitea.io/sdk/gitea"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/processor"
)

const pageSize = 50

// Driver implements connector.Driver for a Gitea instance, one repo per scope.
type Driver struct {
	RT     *connector.Runtime
	Client *gitea.Client
	Owner  string
	Repos  []string
}

// New builds a Driver from a Gitea client built the way forge.GiteaGetRepo
// builds one (gitea.NewClient(url, gitea.SetToken(token))).
func New(rt *connector.Runtime, client *gitea.Client, owner string, repos []string) *Driver {
	return &Driver{RT: rt, Client: client, Owner: owner, Repos: repos}
}

func (d *Driver) Init(ctx context.Context) (bool, error) {
	return d.TestConnectionAndAccess(ctx)
}

func (d *Driver) TestConnectionAndAccess(ctx context.Context) (bool, error) {
	if err := d.RT.Acquire(ctx); err != nil {
		return false, connector.ErrTransient
	}
	if _, _, err := d.Client.GetMyUserInfo(); err != nil {
		return false, connector.ErrNeedsReauth
	}
	return true, nil
}

type watermarkFetcher struct {
	d    *Driver
	repo string
}

func (f watermarkFetcher) FetchSince(ctx context.Context, sinceMs int64) (connector.WatermarkBatch, error) {
	if err := f.d.RT.Acquire(ctx); err != nil {
		return connector.WatermarkBatch{}, connector.ErrTransient
	}
	issues, _, err := f.d.Client.ListRepoIssues(f.d.Owner, f.repo, gitea.ListIssueOption{
		ListOptions: gitea.ListOptions{PageSize: pageSize},
		Type:        gitea.IssueTypeIssue,
		Since:       msToTime(sinceMs),
	})
	if err != nil {
		return connector.WatermarkBatch{}, connector.ErrTransient
	}
	entries := make([]any, len(issues))
	maxUpdated := sinceMs
	for i, iss := range issues {
		entries[i] = iss
		updatedMs := iss.Updated.UnixMilli()
		if updatedMs > maxUpdated {
			maxUpdated = updatedMs
		}
	}
	return connector.WatermarkBatch{Entries: entries, MaxUpdatedAtMs: maxUpdated, HasMore: len(issues) == pageSize}, nil
}

func (d *Driver) RunSync(ctx context.Context) error            { return d.runRepos(ctx) }
func (d *Driver) RunIncrementalSync(ctx context.Context) error { return d.runRepos(ctx) }

func (d *Driver) runRepos(ctx context.Context) error {
	errs := d.RT.FanOutScopes(ctx, d.Repos, func(ctx context.Context, repo string) error {
		key := d.RT.SyncPointKey("TICKETS", d.Owner+"/"+repo)
		return connector.RunPatternC(ctx, d.RT.SyncPoints, key, watermarkFetcher{d: d, repo: repo}, func(ctx context.Context, entries []any) error {
			return d.processIssues(ctx, repo, entries)
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

func (d *Driver) processIssues(ctx context.Context, repo string, entries []any) error {
	subs := make([]processor.RecordSubmission, 0, len(entries))
	for _, e := range entries {
		iss, ok := e.(*gitea.Issue)
		if !ok {
			continue
		}
		subs = append(subs, processor.RecordSubmission{Record: toTicketRecord(d.Owner, repo, iss)})
	}
	if len(subs) == 0 {
		return nil
	}
	return d.RT.Processor.OnNewRecords(ctx, subs)
}

func toTicketRecord(owner, repo string, iss *gitea.Issue) *model.Record {
	return &model.Record{
		EntityMeta: model.EntityMeta{
			ConnectorName:   "GITEA",
			ExternalID:      owner + "/" + repo + "#" + strconv.Itoa(int(iss.Index)),
			SourceCreatedAt: iss.Created.UnixMilli(),
			SourceUpdatedAt: iss.Updated.UnixMilli(),
		},
		RecordType:            model.RecordTypeTicket,
		RecordName:            iss.Title,
		RecordGroupType:       model.RecordGroupProject,
		ExternalRecordGroupID: owner + "/" + repo,
		WebURL:                iss.HTMLURL,
		Payload: &model.TicketRecord{
			Status: string(iss.State),
			Type:   "ISSUE",
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
