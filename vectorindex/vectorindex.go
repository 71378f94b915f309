// Package vectorindex defines the collaborator interface the Retrieval
// Assembler depends on. The concrete vector database is out of scope — only
// the contract is specified here, plus the in-memory fake under
// vectorindex/vectorindextest.
package vectorindex

import "context"

// Hit is one scored vector-search result, carrying just enough metadata for
// the Retrieval Assembler to classify and hydrate it.
type Hit struct {
	VirtualRecordID string
	BlockIndex      int
	IsBlockGroup    bool
	Score           float64
	Metadata        map[string]any
}

// Point is one stored vector entry, used to reconstruct a synthetic record
// when a virtual_record_id's blob is missing from blob storage.
type Point struct {
	VirtualRecordID string
	BlockIndex      int
	IsBlockGroup    bool
	Metadata        map[string]any
}

// Index is the vector database surface the Retrieval Assembler and the
// indexing pipeline depend on.
type Index interface {
	Search(ctx context.Context, orgID string, queryVector []float32, topK int, filter map[string]any) ([]Hit, error)
	ScrollByVirtualRecordID(ctx context.Context, orgID, virtualRecordID string) ([]Point, error)
	Upsert(ctx context.Context, orgID string, points []Point) error
	Delete(ctx context.Context, orgID string, virtualRecordIDs []string) error
}
