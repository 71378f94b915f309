// Package vectorindextest is an in-memory fake of vectorindex.Index for tests,
// in the way store/storetest backs the processor's. No test in the module
// imports it.
package vectorindextest

import (
	"context"
	"sync"

	"eve.evalgo.org/ingest/vectorindex"
)

// Store is an in-memory vectorindex.Index. Build one with New: Upsert and
// Delete write to a map that only New allocates.
type Store struct {
	mu     sync.Mutex
	points map[string][]vectorindex.Point // orgID -> points
}

func New() *Store {
	return &Store{points: make(map[string][]vectorindex.Point)}
}

func (s *Store) Search(ctx context.Context, orgID string, queryVector []float32, topK int, filter map[string]any) ([]vectorindex.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := s.points[orgID]
	hits := make([]vectorindex.Hit, 0, len(pts))
	for _, p := range pts {
		hits = append(hits, vectorindex.Hit{
			VirtualRecordID: p.VirtualRecordID,
			BlockIndex:      p.BlockIndex,
			IsBlockGroup:    p.IsBlockGroup,
			Score:           1.0,
			Metadata:        p.Metadata,
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}

func (s *Store) ScrollByVirtualRecordID(ctx context.Context, orgID, virtualRecordID string) ([]vectorindex.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []vectorindex.Point
	for _, p := range s.points[orgID] {
		if p.VirtualRecordID == virtualRecordID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, orgID string, points []vectorindex.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[orgID] = append(s.points[orgID], points...)
	return nil
}

func (s *Store) Delete(ctx context.Context, orgID string, virtualRecordIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(virtualRecordIDs))
	for _, id := range virtualRecordIDs {
		drop[id] = true
	}
	kept := s.points[orgID][:0]
	for _, p := range s.points[orgID] {
		if !drop[p.VirtualRecordID] {
			kept = append(kept, p)
		}
	}
	s.points[orgID] = kept
	return nil
}
