package index

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
	"github.com/aman-cerp/retrieval-skill/internal/walk"
)

// DefaultPageBatchSize is the default page-image batch size for embed_images
// calls (§4.7); distinct from embed.DefaultBatchSize, which sizes text
// document batches instead.
const DefaultPageBatchSize = 2

// VisionRunnerConfig configures a vision indexing run.
type VisionRunnerConfig struct {
	// RootDir is the corpus root directory to walk for PDF documents.
	RootDir string

	// Embedder extracts pages and embeds page images. Must report
	// embed.KindVision.
	Embedder embed.Adapter

	// ImageOutDir holds extracted page images, one subdirectory per
	// document.
	ImageOutDir string

	// BatchSize controls how many pages are embedded per embed_images
	// call. Zero uses DefaultPageBatchSize.
	BatchSize int

	// Paths controls which files the walker includes/excludes.
	Paths config.PathsConfig
}

// VisionRunnerResult is the outcome of one vision indexing run.
type VisionRunnerResult struct {
	DocumentsScanned   int
	DocumentsUnchanged int
	PagesIndexed       int
	PagesSkippedNaN    int
	Duration           time.Duration
	Warnings           int
}

// VisionRunner executes the PDF page indexing pipeline (§4.7): extract page
// images, embed them in batches, and store per-page token vectors.
type VisionRunner struct {
	catalog *store.Catalog
}

// NewVisionRunner builds a VisionRunner writing into catalog.
func NewVisionRunner(catalog *store.Catalog) *VisionRunner {
	return &VisionRunner{catalog: catalog}
}

// Run walks cfg.RootDir for PDF documents and brings their page images and
// token vectors up to date.
func (r *VisionRunner) Run(ctx context.Context, cfg VisionRunnerConfig) (*VisionRunnerResult, error) {
	start := time.Now()

	if cfg.Embedder == nil {
		return nil, apperr.Configuration(apperr.CodeInvalidOption, "vision indexing run requires an embedder", nil)
	}
	if cfg.Embedder.Kind() != embed.KindVision {
		return nil, apperr.Configuration(apperr.CodeAdapterKindMismatch, "vision indexing run requires a vision adapter", nil)
	}
	if err := cfg.Embedder.Init(ctx); err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultPageBatchSize
	}

	docs, err := r.scanPDFs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result := &VisionRunnerResult{DocumentsScanned: len(docs)}

	for _, f := range docs {
		indexed, unchanged, warnings, err := r.indexDocument(ctx, cfg, f, batchSize)
		if err != nil {
			slog.Warn("vision_document_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			result.Warnings++
			continue
		}
		result.PagesIndexed += indexed.pagesWritten
		result.PagesSkippedNaN += indexed.pagesSkippedNaN
		result.Warnings += warnings
		if unchanged {
			result.DocumentsUnchanged++
		}
	}

	result.Duration = time.Since(start)
	slog.Info("vision_run_complete",
		slog.Int("documents_scanned", result.DocumentsScanned),
		slog.Int("documents_unchanged", result.DocumentsUnchanged),
		slog.Int("pages_indexed", result.PagesIndexed),
		slog.Int("pages_skipped_nan", result.PagesSkippedNaN),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))

	return result, nil
}

type documentOutcome struct {
	pagesWritten    int
	pagesSkippedNaN int
}

// indexDocument implements §4.7 for one PDF: extract pages, skip pages whose
// (document_id, page_index, image_hash) are already current, batch-embed the
// rest, and upsert page_image/page_vector rows.
func (r *VisionRunner) indexDocument(ctx context.Context, cfg VisionRunnerConfig, f *walk.FileInfo, batchSize int) (documentOutcome, bool, int, error) {
	var outcome documentOutcome

	digest, err := walk.HashFile(f.AbsPath)
	if err != nil {
		return outcome, false, 0, err
	}

	fileID, err := r.catalog.UpsertFile(ctx, f.Path, digest, f.Size, f.ModTime.UnixMilli(), "")
	if err != nil {
		return outcome, false, 0, err
	}

	outDir := filepath.Join(cfg.ImageOutDir, fmt.Sprintf("doc-%d", fileID))
	pagePaths, err := cfg.Embedder.ExtractPages(ctx, f.AbsPath, outDir)
	if err != nil {
		return outcome, false, 0, err
	}

	type pendingPage struct {
		index     int
		imagePath string
		imageHash string
	}
	var pending []pendingPage
	unchangedPages := 0

	for pageIndex, imagePath := range pagePaths {
		imageHash, err := walk.HashFile(imagePath)
		if err != nil {
			slog.Warn("vision_page_hash_failed", slog.Int64("document_id", fileID), slog.Int("page_index", pageIndex), slog.String("error", err.Error()))
			continue
		}

		existing, found, err := r.catalog.GetPageImage(ctx, fileID, pageIndex)
		if err != nil {
			return outcome, false, 0, err
		}
		if found && existing.ImageHash == imageHash {
			unchangedPages++
			continue
		}
		pending = append(pending, pendingPage{index: pageIndex, imagePath: imagePath, imageHash: imageHash})
	}

	var warnings int
	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		paths := make([]string, len(batch))
		for i, p := range batch {
			paths[i] = p.imagePath
		}

		vectorSets, err := cfg.Embedder.EmbedImages(ctx, paths)
		if err != nil {
			return outcome, false, 0, err
		}
		if len(vectorSets) != len(batch) {
			return outcome, false, 0, apperr.Embedding(apperr.CodeEmbeddingDimension,
				fmt.Sprintf("vision embedder returned %d page vector sets for %d images", len(vectorSets), len(batch)), nil)
		}

		for i, p := range batch {
			vectors := toFloat32Matrix(vectorSets[i])
			ok, err := r.catalog.UpsertPageVector(ctx, fileID, p.index, p.imageHash, p.imagePath, vectors)
			if err != nil {
				return outcome, false, 0, err
			}
			if !ok {
				slog.Warn("vision_page_skipped", slog.Int64("document_id", fileID), slog.Int("page_index", p.index), slog.String("reason", "nan_vector"))
				outcome.pagesSkippedNaN++
				warnings++
				continue
			}
			outcome.pagesWritten++
		}
	}

	allUnchanged := len(pending) == 0 && unchangedPages == len(pagePaths)
	return outcome, allUnchanged, warnings, nil
}

func toFloat32Matrix(vectors []embed.Vector) [][]float32 {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = []float32(v)
	}
	return out
}

func (r *VisionRunner) scanPDFs(ctx context.Context, cfg VisionRunnerConfig) ([]*walk.FileInfo, error) {
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
			slog.Warn("vision_scan_error", slog.String("error", res.Error.Error()))
			continue
		}
		if res.File.Kind != walk.KindPDF {
			continue
		}
		files = append(files, res.File)
	}
	return files, nil
}
