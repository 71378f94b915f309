package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/syncpoint"
)

type fakeCursorFetcher struct {
	pages []CursorPage
	calls int
}

func (f *fakeCursorFetcher) FetchInitial(ctx context.Context, scope string) (CursorPage, error) {
	return f.next()
}

func (f *fakeCursorFetcher) FetchContinue(ctx context.Context, cursor string) (CursorPage, error) {
	return f.next()
}

func (f *fakeCursorFetcher) next() (CursorPage, error) {
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

func TestRunPatternA_PaginatesUntilHasMoreFalseAndCheckpointsEachPage(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "FILES", Scope: "root"}
	fetcher := &fakeCursorFetcher{pages: []CursorPage{
		{Entries: []any{"a", "b"}, Cursor: "cur1", HasMore: true},
		{Entries: []any{"c"}, Cursor: "cur2", HasMore: false},
	}}

	var seen [][]any
	err := RunPatternA(context.Background(), sp, key, "root", fetcher, func(ctx context.Context, entries []any) error {
		seen = append(seen, entries)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, [][]any{{"a", "b"}, {"c"}}, seen)

	data, ok, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, ok)
	cp, ok := syncpoint.CursorPointFrom(data)
	require.True(t, ok)
	assert.Equal(t, "cur2", cp.Cursor)
}

type cursorInvalidErr struct{}

func (cursorInvalidErr) Error() string  { return "cursor invalid" }
func (cursorInvalidErr) Kind() ErrorKind { return KindCursorInvalid }

func TestRunPatternA_CursorInvalidClearsCheckpointAndReturnsNil(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "FILES", Scope: "root"}
	require.NoError(t, sp.UpdateSyncPoint(key, syncpoint.CursorPoint{Cursor: "stale"}.ToMap()))

	fetcher := &erroringCursorFetcher{err: cursorInvalidErr{}}
	err := RunPatternA(context.Background(), sp, key, "root", fetcher, func(ctx context.Context, entries []any) error {
		t.Fatal("process should not be called")
		return nil
	})
	require.NoError(t, err)

	data, ok, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, ok)
	cp, _ := syncpoint.CursorPointFrom(data)
	assert.Equal(t, "", cp.Cursor)
}

type erroringCursorFetcher struct{ err error }

func (f *erroringCursorFetcher) FetchInitial(ctx context.Context, scope string) (CursorPage, error) {
	return CursorPage{}, f.err
}
func (f *erroringCursorFetcher) FetchContinue(ctx context.Context, cursor string) (CursorPage, error) {
	return CursorPage{}, f.err
}

type fakeEventLogFetcher struct {
	initNow    string
	fullSyncs  int
	pages      []EventPage
	calls      int
	failFirst  bool
}

func (f *fakeEventLogFetcher) InitCursorToNow(ctx context.Context) (string, error) {
	return f.initNow, nil
}

func (f *fakeEventLogFetcher) FetchSince(ctx context.Context, cursor string) (EventPage, error) {
	if f.failFirst && f.calls == 0 {
		f.calls++
		return EventPage{}, cursorInvalidErr{}
	}
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

func (f *fakeEventLogFetcher) FullSync(ctx context.Context) error {
	f.fullSyncs++
	return nil
}

func TestRunPatternB_BootstrapsWithInitCursorToNowBeforeFullSync(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "MAIL", Scope: "u1"}
	fetcher := &fakeEventLogFetcher{initNow: "hist-100"}

	err := RunPatternB(context.Background(), sp, key, fetcher, func(ctx context.Context, entries []any) error {
		t.Fatal("process should not run during bootstrap")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.fullSyncs)

	data, ok, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, ok)
	ep, ok := syncpoint.EventCursorPointFrom(data)
	require.True(t, ok)
	assert.Equal(t, "hist-100", ep.Cursor)
}

func TestRunPatternB_CursorInvalidFallsBackToFullSync(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "MAIL", Scope: "u1"}
	require.NoError(t, sp.UpdateSyncPoint(key, syncpoint.EventCursorPoint{Cursor: "hist-1"}.ToMap()))

	fetcher := &fakeEventLogFetcher{initNow: "hist-200", failFirst: true}
	err := RunPatternB(context.Background(), sp, key, fetcher, func(ctx context.Context, entries []any) error {
		t.Fatal("process should not run on the cursor-invalid path")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.fullSyncs)

	data, _, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	ep, _ := syncpoint.EventCursorPointFrom(data)
	assert.Equal(t, "hist-200", ep.Cursor)
}

type fakeWatermarkFetcher struct {
	batches []WatermarkBatch
	calls   int
}

func (f *fakeWatermarkFetcher) FetchSince(ctx context.Context, sinceMs int64) (WatermarkBatch, error) {
	if f.calls >= len(f.batches) {
		return WatermarkBatch{}, nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b, nil
}

func TestRunPatternC_ChecksPointsToMaxUpdatedAtNotNow(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "TICKETS", Scope: "all"}
	fetcher := &fakeWatermarkFetcher{batches: []WatermarkBatch{
		{Entries: []any{"t1", "t2"}, MaxUpdatedAtMs: 1000, HasMore: true},
		{Entries: []any{"t3"}, MaxUpdatedAtMs: 1500, HasMore: false},
	}}

	err := RunPatternC(context.Background(), sp, key, fetcher, func(ctx context.Context, entries []any) error {
		return nil
	})
	require.NoError(t, err)

	data, ok, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	require.True(t, ok)
	wp, ok := syncpoint.WatermarkPointFrom(data)
	require.True(t, ok)
	assert.Equal(t, int64(1500), wp.LastSyncTimeMs)
}

func TestRunPatternC_StopsOnEmptyBatchWithoutAdvancingCheckpoint(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "TICKETS", Scope: "all"}
	fetcher := &fakeWatermarkFetcher{batches: nil}

	err := RunPatternC(context.Background(), sp, key, fetcher, func(ctx context.Context, entries []any) error {
		t.Fatal("process should not run on an empty batch")
		return nil
	})
	require.NoError(t, err)

	_, ok, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunPatternA_ProcessErrorStopsBeforeCheckpointAdvance(t *testing.T) {
	sp := syncpoint.NewMemStore()
	key := syncpoint.Key{ConnectorID: "c1", OrgID: "org1", DataPointType: "FILES", Scope: "root"}
	fetcher := &fakeCursorFetcher{pages: []CursorPage{
		{Entries: []any{"a"}, Cursor: "cur1", HasMore: true},
	}}

	boom := errors.New("store failure")
	err := RunPatternA(context.Background(), sp, key, "root", fetcher, func(ctx context.Context, entries []any) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok, err := sp.ReadSyncPoint(key)
	require.NoError(t, err)
	assert.False(t, ok, "checkpoint must not advance when the batch failed to persist")
}
