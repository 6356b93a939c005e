package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")

	logger, cleanup, err := Setup(Config{
		Level:         "info",
		FilePath:      path,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("index_complete", "files", 3, "chunks", 12)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "index_complete", entry["msg"])
	assert.Equal(t, float64(3), entry["files"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelFromString("debug").String(), "DEBUG")
	assert.Equal(t, LevelFromString("warn").String(), "WARN")
	assert.Equal(t, LevelFromString("unknown").String(), "INFO")
}

func TestDefaultLogPathUnderRetrievalSkillDir(t *testing.T) {
	assert.Contains(t, DefaultLogPath(), ".retrieval-skill")
}
