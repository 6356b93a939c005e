package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	kind embed.Kind
	dim  int
}

func (f *fakeEmbedder) Kind() embed.Kind               { return f.kind }
func (f *fakeEmbedder) Init(ctx context.Context) error { return nil }
func (f *fakeEmbedder) ModelID() string                { return "fake-model-v1" }
func (f *fakeEmbedder) EmbeddingDim() int               { return f.dim }
func (f *fakeEmbedder) Dispose() error                  { return nil }

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]embed.Vector, error) {
	v := make([]float32, f.dim)
	v[0] = 1
	return []embed.Vector{v}, nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([]embed.Vector, error) {
	out := make([]embed.Vector, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedImages(ctx context.Context, imagePaths []string) ([][]embed.Vector, error) {
	return nil, nil
}

func (f *fakeEmbedder) ExtractPages(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	return nil, nil
}

func writeCorpus(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("# Title\n\n## Intro\n\nhybrid search engine content.\n"), 0o644))
}

func TestEngine_OpenIndexAndClose(t *testing.T) {
	ctx := context.Background()
	corpus := t.TempDir()
	catalogRoot := t.TempDir()
	writeCorpus(t, corpus)

	engine, err := Open(Options{
		RootDir:      corpus,
		CatalogRoot:  catalogRoot,
		CatalogName:  "test-catalog",
		TextEmbedder: &fakeEmbedder{kind: embed.KindText, dim: 4},
	})
	require.NoError(t, err)
	defer engine.Close()

	result, err := engine.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesScanned)
	assert.Greater(t, result.Chunks, 0)

	meta := engine.Meta()
	assert.Equal(t, "fake-model-v1", meta.ModelID)

	check, err := engine.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, check.Inconsistencies)
}

func TestEngine_IndexVisionWithoutEmbedderErrors(t *testing.T) {
	ctx := context.Background()
	corpus := t.TempDir()
	catalogRoot := t.TempDir()
	writeCorpus(t, corpus)

	engine, err := Open(Options{
		RootDir:      corpus,
		CatalogRoot:  catalogRoot,
		CatalogName:  "test-catalog",
		TextEmbedder: &fakeEmbedder{kind: embed.KindText, dim: 4},
	})
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.IndexVision(ctx)
	assert.Error(t, err)
}

func TestRankerConfigFromQuery_MapsRecognizedOptions(t *testing.T) {
	q := config.QueryConfig{
		TopK:          10,
		Threshold:     0.5,
		Mode:          config.ModeText,
		RecencyWeight: 0.2,
		HalfLifeDays:  30,
		Filters:       map[string]string{"section": "intro"},
		FusionMode:    config.FusionWeighted,
		RRFConstant:   60,
	}
	cfg := RankerConfigFromQuery(q)
	assert.Equal(t, 10, cfg.KFinal)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.Equal(t, config.ModeText, cfg.Mode)
	assert.Equal(t, "intro", cfg.Filter["section"])
}
