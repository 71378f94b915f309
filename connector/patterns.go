package connector

import (
	"context"

	"eve.evalgo.org/ingest/syncpoint"
)

// CursorPage is one page returned by a Pattern A delta endpoint.
type CursorPage struct {
	Entries []any
	Cursor  string
	HasMore bool
}

// CursorFetcher is the source-specific half of Pattern A (§4.1): cursor
// pagination with an opaque token (Dropbox files_list_folder/_continue).
// Implementations are responsible for acquiring the connector's rate limiter
// before making the underlying API call — the generic loop never calls the
// source directly.
type CursorFetcher interface {
	FetchInitial(ctx context.Context, scope string) (CursorPage, error)
	FetchContinue(ctx context.Context, cursor string) (CursorPage, error)
}

// RunPatternA drives the formal loop of §4.1 Pattern A. process is called once
// per page with that page's entries batched for the Entity Processor; the
// checkpoint is written only after process returns successfully, satisfying
// §3 invariant 6 ("checkpoint advance may only happen after every record up to
// and including the associated source-time has been durably upserted").
//
// A Kind() == KindCursorInvalid error from fetcher clears the scope's cursor
// and returns nil so the next run falls back to a full sync of that scope only
// (§4.1 "On any non-retryable error whose semantics say cursor invalid...").
func RunPatternA(ctx context.Context, sp syncpoint.Store, key syncpoint.Key, scope string, fetcher CursorFetcher, process func(ctx context.Context, entries []any) error) error {
	data, ok, err := sp.ReadSyncPoint(key)
	if err != nil {
		return err
	}
	var cursor string
	if ok {
		if cp, ok := syncpoint.CursorPointFrom(data); ok {
			cursor = cp.Cursor
		}
	}

	for {
		var page CursorPage
		var fetchErr error
		if cursor == "" {
			page, fetchErr = fetcher.FetchInitial(ctx, scope)
		} else {
			page, fetchErr = fetcher.FetchContinue(ctx, cursor)
		}
		if fetchErr != nil {
			if Classify(fetchErr) == KindCursorInvalid {
				return sp.UpdateSyncPoint(key, map[string]any{})
			}
			return fetchErr
		}

		if err := process(ctx, page.Entries); err != nil {
			return err
		}

		cursor = page.Cursor
		if err := sp.UpdateSyncPoint(key, syncpoint.CursorPoint{Cursor: cursor}.ToMap()); err != nil {
			return err
		}

		if !page.HasMore {
			return nil
		}
	}
}

// EventPage is one page of entries returned by a Pattern B event-log fetch,
// plus the cursor/historyId to checkpoint.
type EventPage struct {
	Entries []any
	Next    string // next cursor or historyId
	HasMore bool
}

// EventLogFetcher is the source-specific half of Pattern B (§4.1): an
// event-log with a global cursor or historyId (Dropbox team events, Drive
// changes, Gmail history).
type EventLogFetcher interface {
	// InitCursorToNow performs the dummy zero-window fetch that returns only
	// a fresh cursor/historyId, used to bootstrap without missing events that
	// occur during the subsequent full sync (§4.1 Pattern B).
	InitCursorToNow(ctx context.Context) (string, error)
	// FetchSince returns events after the given cursor/historyId.
	FetchSince(ctx context.Context, cursor string) (EventPage, error)
	// FullSync performs a complete bootstrap of the category, used both on
	// first run and as the fallback when FetchSince reports cursor-invalid.
	FullSync(ctx context.Context) error
}

// RunPatternB drives the formal loop of §4.1 Pattern B, including the
// "initialize cursor to now before bootstrap" race-avoidance rule and the
// fallback-to-full-sync on 404/"historyId too old".
func RunPatternB(ctx context.Context, sp syncpoint.Store, key syncpoint.Key, fetcher EventLogFetcher, process func(ctx context.Context, entries []any) error) error {
	data, ok, err := sp.ReadSyncPoint(key)
	if err != nil {
		return err
	}
	var cursor string
	if ok {
		if ep, ok := syncpoint.EventCursorPointFrom(data); ok && ep.Cursor != "" {
			cursor = ep.Cursor
		} else if hp, ok := syncpoint.HistoryPointFrom(data); ok && hp.HistoryID != "" {
			cursor = hp.HistoryID
		}
	}

	if cursor == "" {
		now, err := fetcher.InitCursorToNow(ctx)
		if err != nil {
			return err
		}
		if err := fetcher.FullSync(ctx); err != nil {
			return err
		}
		return sp.UpdateSyncPoint(key, syncpoint.EventCursorPoint{Cursor: now}.ToMap())
	}

	for {
		page, err := fetcher.FetchSince(ctx, cursor)
		if err != nil {
			if Classify(err) == KindCursorInvalid {
				now, err := fetcher.InitCursorToNow(ctx)
				if err != nil {
					return err
				}
				if err := fetcher.FullSync(ctx); err != nil {
					return err
				}
				return sp.UpdateSyncPoint(key, syncpoint.EventCursorPoint{Cursor: now}.ToMap())
			}
			return err
		}

		if err := process(ctx, page.Entries); err != nil {
			return err
		}

		cursor = page.Next
		if err := sp.UpdateSyncPoint(key, syncpoint.EventCursorPoint{Cursor: cursor}.ToMap()); err != nil {
			return err
		}

		if !page.HasMore {
			return nil
		}
	}
}

// WatermarkBatch is one ASC-ordered batch of records for Pattern C, plus the
// maximum source_updated_at actually present in the batch.
type WatermarkBatch struct {
	Entries       []any
	MaxUpdatedAtMs int64
	HasMore       bool
}

// WatermarkFetcher is the source-specific half of Pattern C (§4.1): a
// timestamp high-watermark query (Linear, ServiceNow, Jira-like sources with
// no opaque cursor).
type WatermarkFetcher interface {
	// FetchSince returns records with updated_at > sinceMs, ordered ASC.
	FetchSince(ctx context.Context, sinceMs int64) (WatermarkBatch, error)
}

// RunPatternC drives the formal loop of §4.1 Pattern C. The checkpoint is
// always set to the maximum source_updated_at of records *actually upserted*
// in the just-completed batch, not to "now" — this is what makes restart
// resumption exact (§4.1, §8 "Checkpoint safety").
func RunPatternC(ctx context.Context, sp syncpoint.Store, key syncpoint.Key, fetcher WatermarkFetcher, process func(ctx context.Context, entries []any) error) error {
	data, ok, err := sp.ReadSyncPoint(key)
	if err != nil {
		return err
	}
	var sinceMs int64
	if ok {
		if wp, ok := syncpoint.WatermarkPointFrom(data); ok {
			sinceMs = wp.LastSyncTimeMs
		}
	}

	for {
		batch, err := fetcher.FetchSince(ctx, sinceMs)
		if err != nil {
			return err
		}
		if len(batch.Entries) == 0 {
			return nil
		}

		if err := process(ctx, batch.Entries); err != nil {
			return err
		}

		if batch.MaxUpdatedAtMs > sinceMs {
			sinceMs = batch.MaxUpdatedAtMs
		}
		if err := sp.UpdateSyncPoint(key, syncpoint.WatermarkPoint{LastSyncTimeMs: sinceMs}.ToMap()); err != nil {
			return err
		}

		if !batch.HasMore {
			return nil
		}
	}
}
