package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, ModeHybrid, cfg.Query.Mode)
	assert.Equal(t, FusionRRF, cfg.Query.FusionMode)
	assert.Equal(t, 60, cfg.Query.RRFConstant)
	assert.Equal(t, "http://localhost:8100", cfg.Embeddings.ServerURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesProjectConfigOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlContent := "query:\n  top_k: 5\n  mode: text\n  fusion_mode: weighted\nembeddings:\n  server_url: http://example.com:9000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".retrieval-skill.yaml"), []byte(yamlContent), 0o644))

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, ModeText, cfg.Query.Mode)
	assert.Equal(t, FusionWeighted, cfg.Query.FusionMode)
	assert.Equal(t, "http://example.com:9000", cfg.Embeddings.ServerURL)
}

func TestEnvOverridesWinOverProjectConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".retrieval-skill.yaml"), []byte("embeddings:\n  server_url: http://from-file:8100\n"), 0o644))

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("EMBEDDING_SERVER_URL", "http://from-env:8100")
	t.Setenv("RETRIEVAL_TOP_K", "7")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8100", cfg.Embeddings.ServerURL)
	assert.Equal(t, 7, cfg.Query.TopK)
}

func TestValidateRejectsWeightedFusionOutsideTextMode(t *testing.T) {
	cfg := NewConfig()
	cfg.Query.Mode = ModeHybrid
	cfg.Query.FusionMode = FusionWeighted
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fusion_mode")
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := NewConfig()
	cfg.Query.Mode = "nonsense"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangeRecencyWeight(t *testing.T) {
	cfg := NewConfig()
	cfg.Query.RecencyWeight = 1.5
	require.Error(t, cfg.Validate())
}
