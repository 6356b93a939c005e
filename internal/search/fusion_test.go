package search

import (
	"context"
	"testing"

	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanker_TextMode_RRFFusesDenseAndLexical(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	both, err := cat.InsertChunk(ctx, fileID, 0, "hybrid search engine", unitVector(4, 0), "ck-both", "", nil)
	require.NoError(t, err)
	denseOnly, err := cat.InsertChunk(ctx, fileID, 1, "completely unrelated words", unitVector(4, 0), "ck-dense", "", nil)
	require.NoError(t, err)
	lexOnly, err := cat.InsertChunk(ctx, fileID, 2, "hybrid search engine", unitVector(4, 2), "ck-lex", "", nil)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	ranker := NewRanker()
	results, err := ranker.Search(ctx, []CatalogSource{{Catalog: cat, TextEmbedder: embedder}}, "hybrid search engine", RankerConfig{
		KFinal: 10,
		Mode:   config.ModeText,
	}, 1_700_000_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	byChunk := make(map[int64]Result, len(results))
	for _, r := range results {
		byChunk[r.Identity.ChunkID] = r
	}
	require.Contains(t, byChunk, both)
	require.Contains(t, byChunk, denseOnly)
	require.Contains(t, byChunk, lexOnly)
	assert.Greater(t, byChunk[both].Score, byChunk[denseOnly].Score)
	assert.Greater(t, byChunk[both].Score, byChunk[lexOnly].Score)
}

func TestRanker_TextMode_WeightedBlendIsSelectable(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileID, 0, "hybrid search engine", unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	ranker := NewRanker()
	results, err := ranker.Search(ctx, []CatalogSource{{Catalog: cat, TextEmbedder: embedder}}, "hybrid search engine", RankerConfig{
		KFinal:     10,
		Mode:       config.ModeText,
		FusionMode: config.FusionWeighted,
	}, 1_700_000_000_000)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, textWeightedDense*1.0+textWeightedLexical*1.0, results[0].Score, 1e-6)
}

func TestRanker_RecencyBoostsNewerContentWithEqualRank(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	old := int64(1_000_000_000_000)
	recent := int64(1_699_000_000_000)
	oldChunk, err := cat.InsertChunk(ctx, fileID, 0, "hybrid search engine alpha", unitVector(4, 0), "ck-old", "", &old)
	require.NoError(t, err)
	newChunk, err := cat.InsertChunk(ctx, fileID, 1, "hybrid search engine beta", unitVector(4, 0), "ck-new", "", &recent)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	ranker := NewRanker()
	now := int64(1_700_000_000_000)
	results, err := ranker.Search(ctx, []CatalogSource{{Catalog: cat, TextEmbedder: embedder}}, "hybrid search engine", RankerConfig{
		KFinal:        10,
		Mode:          config.ModeText,
		RecencyWeight: 0.5,
		HalfLifeDays:  90,
	}, now)
	require.NoError(t, err)

	byChunk := make(map[int64]Result, len(results))
	for _, r := range results {
		byChunk[r.Identity.ChunkID] = r
	}
	require.Contains(t, byChunk, oldChunk)
	require.Contains(t, byChunk, newChunk)
	assert.Greater(t, byChunk[newChunk].Score, byChunk[oldChunk].Score)
}

func TestRanker_HybridFallsBackToTextWhenCatalogHasNoPages(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileID, 0, "hybrid search engine", unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	ranker := NewRanker()
	results, err := ranker.Search(ctx, []CatalogSource{{Catalog: cat, TextEmbedder: embedder}}, "hybrid search engine", RankerConfig{
		KFinal: 10,
		Mode:   config.ModeHybrid,
	}, 1_700_000_000_000)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, IdentityChunk, results[0].Identity.Kind)
}

func TestRanker_CrossCatalogMergeDedupesByPathAndOrdinal(t *testing.T) {
	ctx := context.Background()
	catA := openTestCatalog(t, 4)
	catB := openTestCatalog(t, 4)

	fileA, err := catA.UpsertFile(ctx, "shared.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = catA.InsertChunk(ctx, fileA, 0, "hybrid search engine", unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)

	fileB, err := catB.UpsertFile(ctx, "shared.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = catB.InsertChunk(ctx, fileB, 0, "hybrid search engine", unitVector(4, 0), "ck-1", "", nil)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	ranker := NewRanker()
	results, err := ranker.Search(ctx, []CatalogSource{
		{Catalog: catA, TextEmbedder: embedder},
		{Catalog: catB, TextEmbedder: embedder},
	}, "hybrid search engine", RankerConfig{KFinal: 10, Mode: config.ModeText}, 1_700_000_000_000)
	require.NoError(t, err)
	assert.Len(t, results, 1, "same path+ordinal across catalogs must be deduplicated")
}

func TestRecencyBoost_MissingTimestampNeverPenalizes(t *testing.T) {
	assert.Equal(t, 1.0, recencyBoost(nil, 1_700_000_000_000, 90))
}
