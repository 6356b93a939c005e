package embed

import (
	"context"
	"os/exec"
	"testing"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorkerScript is a minimal shell implementation of the §6 vision worker
// wire protocol: a ready line, then one JSON reply per request line based on
// a substring match of its method.
const fakeWorkerScript = `
printf '%s\n' '{"ready":true,"model":"test-vision","device":"cpu"}'
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *'"method":"health"'*)
      printf '{"id":%s,"result":{}}\n' "$id"
      ;;
    *'"method":"embed_query"'*)
      printf '{"id":%s,"result":{"embeddings":[[1,2],[3,4]]}}\n' "$id"
      ;;
    *'"method":"embed_images"'*)
      printf '{"id":%s,"result":{"embeddings":[[[1,2]],[[3,4],[5,6]]],"num_vectors":[1,2]}}\n' "$id"
      ;;
    *'"method":"extract_pages"'*)
      printf '{"id":%s,"result":{"paths":["page-1.png","page-2.png"]}}\n' "$id"
      ;;
    *'"method":"shutdown"'*)
      printf '{"id":%s,"result":{}}\n' "$id"
      exit 0
      ;;
    *)
      printf '{"id":%s,"error":"unknown method"}\n' "$id"
      ;;
  esac
done
`

func newFakeVisionAdapter() *VisionAdapter {
	cfg := VisionConfig{
		Backend: "test",
		execCommand: func(name string, args ...string) *exec.Cmd {
			return exec.Command("sh", "-c", fakeWorkerScript)
		},
	}
	return NewVisionAdapter(cfg)
}

func TestVisionAdapterInitReadsReadyLine(t *testing.T) {
	a := newFakeVisionAdapter()
	require.NoError(t, a.Init(context.Background()))
	defer a.Dispose()

	assert.Equal(t, KindVision, a.Kind())
	assert.Equal(t, "test-vision", a.ModelID())
}

func TestVisionAdapterEmbedQueryReturnsMultiVector(t *testing.T) {
	a := newFakeVisionAdapter()
	require.NoError(t, a.Init(context.Background()))
	defer a.Dispose()

	vecs, err := a.EmbedQuery(context.Background(), "a page about onboarding")
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestVisionAdapterEmbedImagesReturnsOneSetPerPage(t *testing.T) {
	a := newFakeVisionAdapter()
	require.NoError(t, a.Init(context.Background()))
	defer a.Dispose()

	vecs, err := a.EmbedImages(context.Background(), []string{"p1.png", "p2.png"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 1)
	assert.Len(t, vecs[1], 2)
}

func TestVisionAdapterExtractPages(t *testing.T) {
	a := newFakeVisionAdapter()
	require.NoError(t, a.Init(context.Background()))
	defer a.Dispose()

	paths, err := a.ExtractPages(context.Background(), "doc.pdf", "/tmp/out")
	require.NoError(t, err)
	assert.Equal(t, []string{"page-1.png", "page-2.png"}, paths)
}

func TestVisionAdapterEmbedDocumentsReturnsConfigurationError(t *testing.T) {
	a := newFakeVisionAdapter()
	require.NoError(t, a.Init(context.Background()))
	defer a.Dispose()

	_, err := a.EmbedDocuments(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConfiguration, apperr.KindOf(err))
}
