package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryAnalyzer_TokenizesAndLowercases(t *testing.T) {
	a := newQueryAnalyzer()
	tokens := a.tokenize(`Hybrid Search "Engine"`)
	assert.Equal(t, []string{"hybrid", "search", "engine"}, tokens)
}

func TestLexicalLane_MatchesAndNormalizesScores(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	strong, err := cat.InsertChunk(ctx, fileID, 0, "hybrid retrieval hybrid retrieval", unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)
	weak, err := cat.InsertChunk(ctx, fileID, 1, "hybrid retrieval mentioned once", unitVector(4, 1), "ck-2", "", nil)
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileID, 2, "unrelated text entirely", unitVector(4, 2), "ck-3", "", nil)
	require.NoError(t, err)

	lane := NewLexicalLane()
	hits, err := lane.Search(ctx, cat, "hybrid retrieval", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	byID := make(map[int64]float64, len(hits))
	for _, h := range hits {
		byID[h.ChunkID] = h.ScoreNorm
		assert.GreaterOrEqual(t, h.ScoreNorm, 0.0)
		assert.LessOrEqual(t, h.ScoreNorm, 1.0)
	}
	assert.Contains(t, byID, strong)
	assert.Contains(t, byID, weak)
	assert.Equal(t, 1.0, byID[strong], "top hit should normalize to 1.0")
}

func TestLexicalLane_NoMatchesReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileID, 0, "completely different content", unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)

	lane := NewLexicalLane()
	hits, err := lane.Search(ctx, cat, "nonexistent", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLexicalLane_EscapesQuotesInQuery(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileID, 0, `say "hello" to the world`, unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)

	lane := NewLexicalLane()
	hits, err := lane.Search(ctx, cat, `"hello" world`, 10, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}
