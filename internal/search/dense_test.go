package search

import (
	"context"
	"testing"

	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTextEmbedder struct {
	dim   int
	model string
	query func(text string) []float32
}

func newFakeTextEmbedder(dim int) *fakeTextEmbedder {
	return &fakeTextEmbedder{dim: dim, model: "fake-text-v1"}
}

func (f *fakeTextEmbedder) Kind() embed.Kind               { return embed.KindText }
func (f *fakeTextEmbedder) Init(ctx context.Context) error { return nil }
func (f *fakeTextEmbedder) ModelID() string                { return f.model }
func (f *fakeTextEmbedder) EmbeddingDim() int               { return f.dim }
func (f *fakeTextEmbedder) Dispose() error                  { return nil }
func (f *fakeTextEmbedder) EmbedQuery(ctx context.Context, text string) ([]embed.Vector, error) {
	if f.query != nil {
		return []embed.Vector{f.query(text)}, nil
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return []embed.Vector{v}, nil
}
func (f *fakeTextEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]embed.Vector, error) {
	return nil, nil
}
func (f *fakeTextEmbedder) EmbedImages(ctx context.Context, imagePaths []string) ([][]embed.Vector, error) {
	return nil, nil
}
func (f *fakeTextEmbedder) ExtractPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	return nil, nil
}

func openTestCatalog(t *testing.T, dim int) *store.Catalog {
	t.Helper()
	root := t.TempDir()
	cat, err := store.Open(root, "corpus", store.OpenOptions{
		SourceDirectory: "/docs", ModelID: "test-model", Dim: dim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestDenseLane_ReturnsNeighborsSortedBySimilarity(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, "")
	require.NoError(t, err)
	near, err := cat.InsertChunk(ctx, fileID, 0, "near chunk", unitVector(4, 0), "ck-near", "", nil)
	require.NoError(t, err)
	far, err := cat.InsertChunk(ctx, fileID, 1, "far chunk", unitVector(4, 2), "ck-far", "", nil)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	lane := NewDenseLane()
	hits, err := lane.Search(ctx, cat, embedder, "query", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, near, hits[0].ChunkID)
	assert.Equal(t, far, hits[1].ChunkID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestDenseLane_FiltersByMetadata(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileA, err := cat.UpsertFile(ctx, "a.md", "d1", 1, 1, `{"section":"intro"}`)
	require.NoError(t, err)
	fileB, err := cat.UpsertFile(ctx, "b.md", "d2", 1, 1, `{"section":"appendix"}`)
	require.NoError(t, err)
	keep, err := cat.InsertChunk(ctx, fileA, 0, "a", unitVector(4, 0), "ck-a", "", nil)
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileB, 0, "b", unitVector(4, 0), "ck-b", "", nil)
	require.NoError(t, err)

	embedder := newFakeTextEmbedder(4)
	embedder.query = func(text string) []float32 { return unitVector(4, 0) }

	lane := NewDenseLane()
	hits, err := lane.Search(ctx, cat, embedder, "query", 10, MetadataFilter{"section": "intro"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, keep, hits[0].ChunkID)
}
