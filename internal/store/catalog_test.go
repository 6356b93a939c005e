package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T, dim int) *Catalog {
	t.Helper()
	root := t.TempDir()
	cat, err := Open(root, "corpus", OpenOptions{
		SourceDirectory: "/docs",
		ModelID:         "test-model",
		Dim:             dim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })
	return cat
}

func unitVector(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestOpen_CreatesSchemaAndMeta(t *testing.T) {
	cat := openTestCatalog(t, 4)

	meta := cat.Meta()
	assert.Equal(t, CurrentSchemaVersion, meta.SchemaVersion)
	assert.Equal(t, "corpus", meta.IndexName)
	assert.Equal(t, "/docs", meta.SourceDirectory)
	assert.Equal(t, "test-model", meta.ModelID)
	assert.Equal(t, 4, meta.EmbeddingDim)
}

func TestOpen_SecondWriterIsRejected(t *testing.T) {
	root := t.TempDir()
	first, err := Open(root, "corpus", OpenOptions{ModelID: "m", Dim: 4})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(root, "corpus", OpenOptions{ModelID: "m", Dim: 4})
	require.Error(t, err)
}

func TestOpen_ModelMismatchWithoutResetIsRejected(t *testing.T) {
	root := t.TempDir()
	cat, err := Open(root, "corpus", OpenOptions{ModelID: "model-a", Dim: 4})
	require.NoError(t, err)
	require.NoError(t, cat.Close())

	_, err = Open(root, "corpus", OpenOptions{ModelID: "model-b", Dim: 4})
	require.Error(t, err)
}

func TestOpen_ModelMismatchWithResetClearsCatalog(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	cat, err := Open(root, "corpus", OpenOptions{ModelID: "model-a", Dim: 4})
	require.NoError(t, err)
	_, err = cat.UpsertFile(ctx, "a.md", "digest-a", 10, 1000, "")
	require.NoError(t, err)
	require.NoError(t, cat.Close())

	reopened, err := Open(root, "corpus", OpenOptions{ModelID: "model-b", Dim: 8, AllowReset: true})
	require.NoError(t, err)
	defer reopened.Close()

	files, err := reopened.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Equal(t, "model-b", reopened.Meta().ModelID)
	assert.Equal(t, 8, reopened.Meta().EmbeddingDim)
}

func TestUpsertFile_InsertThenUpdate(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	id1, err := cat.UpsertFile(ctx, "notes/a.md", "digest-1", 100, 1000, `{"title":"a"}`)
	require.NoError(t, err)
	assert.NotZero(t, id1)

	id2, err := cat.UpsertFile(ctx, "notes/a.md", "digest-2", 200, 2000, `{"title":"a2"}`)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	rec, ok, err := cat.GetFileByPath(ctx, "notes/a.md")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "digest-2", rec.Digest)
	assert.Equal(t, int64(200), rec.Size)
}

func TestInsertChunk_PopulatesLexicalAndVectorSidecar(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "digest-1", 10, 1000, "")
	require.NoError(t, err)

	vec := unitVector(4, 0)
	chunkID, err := cat.InsertChunk(ctx, fileID, 0, "the quick brown fox", vec, "cache-key-1", "Intro", nil)
	require.NoError(t, err)
	assert.NotZero(t, chunkID)

	hits, err := cat.LexicalMatch(ctx, "quick", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, chunkID, hits[0].ChunkID)

	knn, err := cat.VecKNN(ctx, vec, 5)
	require.NoError(t, err)
	require.Len(t, knn, 1)
	assert.Equal(t, chunkID, knn[0].ChunkID)

	got, found, err := cat.LookupCachedEmbedding(ctx, "cache-key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, vec, got)
}

func TestLookupCachedEmbedding_Miss(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	_, found, err := cat.LookupCachedEmbedding(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteFileCascade_RemovesChunksLexicalAndVectors(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "digest-1", 10, 1000, "")
	require.NoError(t, err)
	vec := unitVector(4, 1)
	chunkID, err := cat.InsertChunk(ctx, fileID, 0, "alpha beta gamma", vec, "ck-1", "", nil)
	require.NoError(t, err)

	require.NoError(t, cat.DeleteFileCascade(ctx, fileID))

	_, found, err := cat.GetFileByPath(ctx, "a.md")
	require.NoError(t, err)
	assert.False(t, found)

	hits, err := cat.LexicalMatch(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	knn, err := cat.VecKNN(ctx, vec, 5)
	require.NoError(t, err)
	for _, r := range knn {
		assert.NotEqual(t, chunkID, r.ChunkID)
	}
}

func TestPruneMissing_DeletesAbsentFiles(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	_, err := cat.UpsertFile(ctx, "keep.md", "d1", 1, 1, "")
	require.NoError(t, err)
	_, err = cat.UpsertFile(ctx, "gone.md", "d2", 1, 1, "")
	require.NoError(t, err)

	pruned, err := cat.PruneMissing(ctx, map[string]bool{"keep.md": true})
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	files, err := cat.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep.md", files[0].Path)
}

func TestVecKNN_OrdersByDistance(t *testing.T) {
	ctx := context.Background()
	cat := openTestCatalog(t, 4)

	fileID, err := cat.UpsertFile(ctx, "a.md", "d", 1, 1, "")
	require.NoError(t, err)

	near := unitVector(4, 0)
	far := []float32{-1, 0, 0, 0}
	_, err = cat.InsertChunk(ctx, fileID, 0, "near chunk", near, "ck-near", "", nil)
	require.NoError(t, err)
	_, err = cat.InsertChunk(ctx, fileID, 1, "far chunk", far, "ck-far", "", nil)
	require.NoError(t, err)

	results, err := cat.VecKNN(ctx, near, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestRecordRun_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	cat, err := Open(root, "corpus", OpenOptions{ModelID: "m", Dim: 4})
	require.NoError(t, err)
	require.NoError(t, cat.RecordRun(ctx, cat.Meta().LastIndexedAt, 3, 9))
	require.NoError(t, cat.Close())

	reopened, err := Open(root, "corpus", OpenOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.Meta().TotalFiles)
	assert.Equal(t, 9, reopened.Meta().TotalChunks)
}

func TestEncodeDecodeEmbedding_RoundTrips(t *testing.T) {
	vec := []float32{0.5, -1.25, 3, 0}
	blob, err := EncodeEmbedding(vec)
	require.NoError(t, err)

	got, err := DecodeEmbedding(blob)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestDecodeEmbedding_RejectsMisalignedLength(t *testing.T) {
	_, err := DecodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}
