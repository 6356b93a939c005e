package search

import (
	"context"
	"testing"

	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVisionQueryEmbedder struct {
	dim   int
	query []float32
}

func (f *fakeVisionQueryEmbedder) Kind() embed.Kind               { return embed.KindVision }
func (f *fakeVisionQueryEmbedder) Init(ctx context.Context) error { return nil }
func (f *fakeVisionQueryEmbedder) ModelID() string                { return "fake-vision-query" }
func (f *fakeVisionQueryEmbedder) EmbeddingDim() int               { return f.dim }
func (f *fakeVisionQueryEmbedder) Dispose() error                  { return nil }
func (f *fakeVisionQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]embed.Vector, error) {
	return []embed.Vector{f.query}, nil
}
func (f *fakeVisionQueryEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]embed.Vector, error) {
	return nil, nil
}
func (f *fakeVisionQueryEmbedder) EmbedImages(ctx context.Context, imagePaths []string) ([][]embed.Vector, error) {
	return nil, nil
}
func (f *fakeVisionQueryEmbedder) ExtractPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	return nil, nil
}

func TestVisionLane_RanksPagesByMaxSim(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 3)

	fileID, err := cat.UpsertFile(ctx, "report.pdf", "d1", 100, 1, "")
	require.NoError(t, err)

	ok, err := cat.UpsertPageVector(ctx, fileID, 0, "h0", "/p0.png", [][]float32{{1, 0, 0}})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = cat.UpsertPageVector(ctx, fileID, 1, "h1", "/p1.png", [][]float32{{0, 1, 0}})
	require.NoError(t, err)
	require.True(t, ok)

	embedder := &fakeVisionQueryEmbedder{dim: 3, query: []float32{1, 0, 0}}
	lane := NewVisionLane()
	hits, err := lane.Search(ctx, cat, embedder, "query", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].PageIndex)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestVisionLane_NoPagesReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 3)

	embedder := &fakeVisionQueryEmbedder{dim: 3, query: []float32{1, 0, 0}}
	lane := NewVisionLane()
	hits, err := lane.Search(ctx, cat, embedder, "query", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMaxSim_SumsBestMatchPerQueryToken(t *testing.T) {
	q := [][]float32{{1, 0}, {0, 1}}
	p := [][]float32{{1, 0}, {0.5, 0.5}}
	score := maxSim(q, p)
	assert.InDelta(t, 1.0+0.5, score, 1e-9)
}
