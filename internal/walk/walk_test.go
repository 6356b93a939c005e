package walk

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, opts *Options) []*FileInfo {
	t.Helper()
	w, err := New()
	require.NoError(t, err)

	results, err := w.Walk(context.Background(), opts)
	require.NoError(t, err)

	var files []*FileInfo
	for r := range results {
		require.NoError(t, r.Error)
		files = append(files, r.File)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkFindsAllowListedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.md", "# hello")
	writeFile(t, dir, "notes.txt", "plain text")
	writeFile(t, dir, "report.pdf", "%PDF-1.4")
	writeFile(t, dir, "image.png", "not indexable")
	writeFile(t, dir, "src/main.go", "package main")

	files := collect(t, &Options{RootDir: dir})
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.ElementsMatch(t, []string{"doc.md", "notes.txt", "report.pdf"}, paths)
}

func TestWalkSkipsSensitiveFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "fine")
	writeFile(t, dir, ".env", "SECRET=1")
	writeFile(t, dir, "id_rsa", "private key")

	files := collect(t, &Options{RootDir: dir})
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Path)
}

func TestWalkRespectsExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.md", "keep")
	writeFile(t, dir, "archive/old.md", "old")

	files := collect(t, &Options{RootDir: dir, ExcludePatterns: []string{"archive/**"}})
	require.Len(t, files, 1)
	assert.Equal(t, "keep.md", files[0].Path)
}

func TestWalkBreaksSymlinkCycles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, dir, "sub/doc.md", "content")
	require.NoError(t, os.Symlink(dir, filepath.Join(sub, "loop")))

	files := collect(t, &Options{RootDir: dir, FollowSymlinks: true})
	assert.Len(t, files, 1)
}

func TestDetectKind(t *testing.T) {
	k, ok := DetectKind("a/b/file.MD")
	assert.True(t, ok)
	assert.Equal(t, KindMarkdown, k)

	_, ok = DetectKind("file.go")
	assert.False(t, ok)
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestChunkCacheKeyInjectiveConcatenation(t *testing.T) {
	a := ChunkCacheKey("ab", "c")
	b := ChunkCacheKey("a", "bc")
	assert.NotEqual(t, a, b)
}
