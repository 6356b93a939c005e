// Package index provides the incremental text indexer (§4.6): the pipeline
// that walks a source directory, content-addresses each file, chunks and
// embeds what changed, and writes the result into a catalog.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
	"github.com/aman-cerp/retrieval-skill/internal/chunk"
	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
	"github.com/aman-cerp/retrieval-skill/internal/walk"
)

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// RootDir is the corpus root directory to walk.
	RootDir string

	// Embedder generates the dense text vectors stored per chunk.
	Embedder embed.Adapter

	// Chunking controls how each file's text is split (§4.2). Zero value
	// uses chunk's defaults.
	Chunking chunk.Options

	// Paths controls which files the walker includes/excludes.
	Paths config.PathsConfig
}

// RunnerResult is the outcome of one indexing run.
type RunnerResult struct {
	FilesScanned   int
	FilesUnchanged int
	FilesReindexed int
	FilesRemoved   int
	Chunks         int
	Duration       time.Duration
	Warnings       int
}

// Runner executes the incremental indexing pipeline against a catalog (§4.6).
type Runner struct {
	catalog *store.Catalog
}

// NewRunner builds a Runner writing into catalog.
func NewRunner(catalog *store.Catalog) *Runner {
	return &Runner{catalog: catalog}
}

// stageTiming tracks duration for each indexing stage.
type stageTiming struct {
	scan  time.Duration
	chunk time.Duration
	embed time.Duration
	write time.Duration
}

// Run walks cfg.RootDir and brings the catalog up to date with what it
// finds there: files whose mtime and size match the catalog record are
// skipped without being read, other files are hashed and those whose
// content digest changed are fully rechunked and reembedded, and files no
// longer present on disk are pruned (§4.6).
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	var timing stageTiming
	var warnings int

	if cfg.Embedder == nil {
		return nil, apperr.Configuration(apperr.CodeInvalidOption, "indexing run requires an embedder", nil)
	}
	if err := cfg.Embedder.Init(ctx); err != nil {
		return nil, err
	}

	modelID := cfg.Embedder.ModelID()
	memo := store.NewEmbeddingMemo(r.catalog.LookupFunc(ctx), store.DefaultEmbeddingMemoSize)

	scanStart := time.Now()
	files, err := r.scan(ctx, cfg)
	timing.scan = time.Since(scanStart)
	if err != nil {
		return nil, err
	}

	slog.Info("index_scan_complete", slog.String("root", cfg.RootDir), slog.Int("files", len(files)))

	present := make(map[string]bool, len(files))
	var totalChunks int
	var reindexed, unchanged int

	for _, f := range files {
		present[f.Path] = true
		mtimeMS := f.ModTime.UnixMilli()

		existing, found, err := r.catalog.GetFileByPath(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		if found && existing.ModTimeMS == mtimeMS && existing.Size == f.Size {
			unchanged++
			n, err := r.catalog.CountChunksForFile(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			totalChunks += n
			continue
		}

		digest, err := walk.HashFile(f.AbsPath)
		if err != nil {
			slog.Warn("index_hash_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			warnings++
			continue
		}

		if found && existing.Digest == digest {
			unchanged++
			if existing.ModTimeMS != mtimeMS {
				if _, err := r.catalog.UpsertFile(ctx, f.Path, digest, f.Size, mtimeMS, existing.MetadataJSON); err != nil {
					return nil, err
				}
			}
			n, err := r.catalog.CountChunksForFile(ctx, existing.ID)
			if err != nil {
				return nil, err
			}
			totalChunks += n
			continue
		}

		n, err := r.reindexFile(ctx, cfg, f, digest, mtimeMS, modelID, memo, found, &timing)
		if err != nil {
			slog.Warn("index_file_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			warnings++
			continue
		}
		totalChunks += n
		reindexed++
	}

	pruned, err := r.catalog.PruneMissing(ctx, present)
	if err != nil {
		return nil, err
	}

	if err := r.catalog.RecordRun(ctx, time.Now(), len(files), totalChunks); err != nil {
		return nil, err
	}

	duration := time.Since(start)
	slog.Info("index_run_complete",
		slog.Int("files_scanned", len(files)),
		slog.Int("files_unchanged", unchanged),
		slog.Int("files_reindexed", reindexed),
		slog.Int("files_removed", pruned),
		slog.Int("chunks", totalChunks),
		slog.Int64("duration_scan_ms", timing.scan.Milliseconds()),
		slog.Int64("duration_chunk_ms", timing.chunk.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_write_ms", timing.write.Milliseconds()),
		slog.Int64("duration_total_ms", duration.Milliseconds()))

	return &RunnerResult{
		FilesScanned:   len(files),
		FilesUnchanged: unchanged,
		FilesReindexed: reindexed,
		FilesRemoved:   pruned,
		Chunks:         totalChunks,
		Duration:       duration,
		Warnings:       warnings,
	}, nil
}

// reindexFile fully rechunks, reembeds (reusing cached vectors by chunk
// cache key where possible) and rewrites a single changed or new file.
func (r *Runner) reindexFile(ctx context.Context, cfg RunnerConfig, f *walk.FileInfo, digest string, mtimeMS int64, modelID string, memo *store.EmbeddingMemo, alreadyIndexed bool, timing *stageTiming) (int, error) {
	chunkStart := time.Now()
	raw, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return 0, err
	}

	chunks, fm, err := chunk.Chunk(f.Path, string(raw), cfg.Chunking)
	if err != nil {
		return 0, err
	}
	timing.chunk += time.Since(chunkStart)

	contentTS := chunk.ExtractTimestamp(fm, f.ModTime)

	cacheKeys := make([]string, len(chunks))
	vectors := make([]embed.Vector, len(chunks))
	var toEmbedIdx []int
	var toEmbedTexts []string
	for i, c := range chunks {
		cacheKeys[i] = walk.ChunkCacheKey(c.Text, modelID)
		if cached, ok, lookupErr := memo.Get(cacheKeys[i]); lookupErr == nil && ok {
			vectors[i] = cached
			continue
		}
		toEmbedIdx = append(toEmbedIdx, i)
		toEmbedTexts = append(toEmbedTexts, c.Text)
	}

	embedStart := time.Now()
	if len(toEmbedTexts) > 0 {
		fresh, err := cfg.Embedder.EmbedDocuments(ctx, toEmbedTexts)
		if err != nil {
			return 0, err
		}
		if len(fresh) != len(toEmbedTexts) {
			return 0, apperr.Embedding(apperr.CodeEmbeddingDimension,
				fmt.Sprintf("embedder returned %d vectors for %d documents", len(fresh), len(toEmbedTexts)), nil)
		}
		for j, idx := range toEmbedIdx {
			vectors[idx] = fresh[j]
			memo.Put(cacheKeys[idx], fresh[j])
		}
	}
	timing.embed += time.Since(embedStart)

	writeStart := time.Now()
	defer func() { timing.write += time.Since(writeStart) }()

	metadataJSON := frontMatterJSON(fm)
	fileID, err := r.catalog.UpsertFile(ctx, f.Path, digest, f.Size, mtimeMS, metadataJSON)
	if err != nil {
		return 0, err
	}
	if alreadyIndexed {
		if err := r.catalog.DeleteFileCascade(ctx, fileID); err != nil {
			return 0, err
		}
		fileID, err = r.catalog.UpsertFile(ctx, f.Path, digest, f.Size, mtimeMS, metadataJSON)
		if err != nil {
			return 0, err
		}
	}

	for i, c := range chunks {
		if _, err := r.catalog.InsertChunk(ctx, fileID, c.Ordinal, c.Text, vectors[i], cacheKeys[i], c.SectionContext, contentTS); err != nil {
			return 0, err
		}
	}

	return len(chunks), nil
}

func (r *Runner) scan(ctx context.Context, cfg RunnerConfig) ([]*walk.FileInfo, error) {
	w, err := walk.New()
	if err != nil {
		return nil, apperr.IO(apperr.CodeFilePermission, "create walker", err)
	}

	results, err := w.Walk(ctx, &walk.Options{
		RootDir:          cfg.RootDir,
		IncludePatterns:  cfg.Paths.Include,
		ExcludePatterns:  cfg.Paths.Exclude,
		RespectGitignore: true,
		Workers:          runtime.NumCPU(),
	})
	if err != nil {
		return nil, err
	}

	var files []*walk.FileInfo
	for res := range results {
		if res.Error != nil {
			slog.Warn("index_scan_error", slog.String("error", res.Error.Error()))
			continue
		}
		if res.File.Kind == walk.KindPDF {
			// PDF documents feed the vision indexer (§4.7), not this lane.
			continue
		}
		files = append(files, res.File)
	}
	return files, nil
}

func frontMatterJSON(fm chunk.FrontMatter) string {
	if len(fm) == 0 {
		return ""
	}
	b, err := json.Marshal(fm)
	if err != nil {
		return ""
	}
	return string(b)
}
