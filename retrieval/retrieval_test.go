package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/vectorindex"
)

type fakeBlobStore struct {
	containers map[string]*model.BlockContainer
}

func (f *fakeBlobStore) GetBlockContainer(ctx context.Context, orgID, virtualRecordID string) (*model.BlockContainer, bool, error) {
	c, ok := f.containers[virtualRecordID]
	return c, ok, nil
}

func newTestAssembler(containers map[string]*model.BlockContainer) *Assembler {
	return NewAssembler(&fakeBlobStore{containers: containers}, nil)
}

func TestAssemble_TextBlockExpandsAdjacency(t *testing.T) {
	container := &model.BlockContainer{
		VirtualRecordID: "vr1",
		Blocks: []model.Block{
			{BlockIndex: 0, Type: model.BlockTypeText, Data: map[string]any{"data": "intro"}},
			{BlockIndex: 1, Type: model.BlockTypeText, Data: map[string]any{"data": "the hit"}},
			{BlockIndex: 2, Type: model.BlockTypeText, Data: map[string]any{"data": "outro"}},
		},
	}
	a := newTestAssembler(map[string]*model.BlockContainer{"vr1": container})
	payload, err := a.Assemble(context.Background(), []vectorindex.Hit{
		{VirtualRecordID: "vr1", BlockIndex: 1, Score: 0.9},
	}, AssembleOptions{Query: "what happened?"})
	require.NoError(t, err)
	require.Len(t, payload.Records, 1)
	// The hit itself is BlockIndex 1; its citation must reflect the real
	// block_index, not its position in the emitted slice (§4.3).
	assert.Equal(t, "R1-1", payload.Records[0].Blocks[0].Citation)
	var contents []string
	for _, b := range payload.Records[0].Blocks {
		contents = append(contents, b.Content)
	}
	assert.ElementsMatch(t, []string{"the hit", "intro", "outro"}, contents)
}

func TestAssemble_CitationUsesRealBlockIndexRegardlessOfEmissionOrder(t *testing.T) {
	// Block 5 is the vector hit; blocks 4 and 6 are pulled in by adjacency
	// expansion (step 3) and land in the emitted slice *after* block 5 even
	// though block 4 precedes it in the document. A citation label built from
	// emission position would number these 0/1/2; the real block_index must
	// be 5/4/6 so "R1-5" always points at the same content even if an extra
	// upstream hit later changes how many blocks precede it in the slice.
	container := &model.BlockContainer{
		VirtualRecordID: "vr1",
		Blocks: []model.Block{
			{BlockIndex: 4, Type: model.BlockTypeText, Data: map[string]any{"data": "before"}},
			{BlockIndex: 5, Type: model.BlockTypeText, Data: map[string]any{"data": "hit"}},
			{BlockIndex: 6, Type: model.BlockTypeText, Data: map[string]any{"data": "after"}},
		},
	}
	a := newTestAssembler(map[string]*model.BlockContainer{"vr1": container})
	payload, err := a.Assemble(context.Background(), []vectorindex.Hit{
		{VirtualRecordID: "vr1", BlockIndex: 5, Score: 0.9},
	}, AssembleOptions{})
	require.NoError(t, err)
	citations := make(map[string]string)
	for _, b := range payload.Records[0].Blocks {
		citations[b.Content] = b.Citation
	}
	assert.Equal(t, "R1-5", citations["hit"])
	assert.Equal(t, "R1-4", citations["before"])
	assert.Equal(t, "R1-6", citations["after"])
}

func TestAssemble_DeduplicatesRepeatedHits(t *testing.T) {
	container := &model.BlockContainer{
		VirtualRecordID: "vr1",
		Blocks: []model.Block{
			{BlockIndex: 0, Type: model.BlockTypeText, Data: map[string]any{"data": "only block"}},
		},
	}
	a := newTestAssembler(map[string]*model.BlockContainer{"vr1": container})
	payload, err := a.Assemble(context.Background(), []vectorindex.Hit{
		{VirtualRecordID: "vr1", BlockIndex: 0, Score: 0.9},
		{VirtualRecordID: "vr1", BlockIndex: 0, Score: 0.5},
	}, AssembleOptions{})
	require.NoError(t, err)
	assert.Len(t, payload.Records[0].Blocks, 1)
}

func TestAssemble_LargeTableOmitsChildrenOnInitialPass(t *testing.T) {
	bigMarkdown := strings.Repeat("word ", 800)
	container := &model.BlockContainer{
		VirtualRecordID: "vr1",
		Blocks: []model.Block{
			{BlockIndex: 1, Type: model.BlockTypeTableRow, Data: map[string]any{"row_natural_language_text": "row one"}},
		},
		BlockGroups: []model.BlockGroup{
			{BlockIndex: 0, Type: model.GroupTypeTable, Data: map[string]any{"table_markdown": bigMarkdown, "table_summary": "a big table"}, ChildBlockIndices: []int{1}},
		},
	}
	a := newTestAssembler(map[string]*model.BlockContainer{"vr1": container})
	payload, err := a.Assemble(context.Background(), []vectorindex.Hit{
		{VirtualRecordID: "vr1", BlockIndex: 0, IsBlockGroup: true, Score: 0.9},
	}, AssembleOptions{})
	require.NoError(t, err)
	require.Len(t, payload.Records[0].Blocks, 1)
	assert.Empty(t, payload.Records[0].Blocks[0].Children)
	assert.Equal(t, "a big table", payload.Records[0].Blocks[0].Content)
}

func TestAssemble_SmallTableIncludesAllRows(t *testing.T) {
	container := &model.BlockContainer{
		VirtualRecordID: "vr1",
		Blocks: []model.Block{
			{BlockIndex: 1, Type: model.BlockTypeTableRow, Data: map[string]any{"row_natural_language_text": "row one"}},
			{BlockIndex: 2, Type: model.BlockTypeTableRow, Data: map[string]any{"row_natural_language_text": "row two"}},
		},
		BlockGroups: []model.BlockGroup{
			{BlockIndex: 0, Type: model.GroupTypeTable, Data: map[string]any{"table_markdown": "small", "table_summary": "tiny table"}, ChildBlockIndices: []int{1, 2}},
		},
	}
	a := newTestAssembler(map[string]*model.BlockContainer{"vr1": container})
	payload, err := a.Assemble(context.Background(), []vectorindex.Hit{
		{VirtualRecordID: "vr1", BlockIndex: 0, IsBlockGroup: true, Score: 0.9},
	}, AssembleOptions{})
	require.NoError(t, err)
	require.Len(t, payload.Records[0].Blocks[0].Children, 2)
}

func TestAssemble_CitationsAreStableByRecordRank(t *testing.T) {
	c1 := &model.BlockContainer{VirtualRecordID: "vr1", Blocks: []model.Block{{BlockIndex: 0, Type: model.BlockTypeText, Data: map[string]any{"data": "a"}}}}
	c2 := &model.BlockContainer{VirtualRecordID: "vr2", Blocks: []model.Block{{BlockIndex: 0, Type: model.BlockTypeText, Data: map[string]any{"data": "b"}}}}
	a := newTestAssembler(map[string]*model.BlockContainer{"vr1": c1, "vr2": c2})
	payload, err := a.Assemble(context.Background(), []vectorindex.Hit{
		{VirtualRecordID: "vr1", BlockIndex: 0, Score: 0.9},
		{VirtualRecordID: "vr2", BlockIndex: 0, Score: 0.8},
	}, AssembleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, payload.Records[0].Number)
	assert.Equal(t, 2, payload.Records[1].Number)
}
