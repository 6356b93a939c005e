package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aman-cerp/retrieval-skill/internal/chunk"
	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/store"
	"github.com/aman-cerp/retrieval-skill/internal/walk"
	"github.com/aman-cerp/retrieval-skill/internal/watcher"
)

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// RootDir is the corpus root the events' paths are relative to.
	RootDir string

	// Catalog is the catalog kept in sync with the watched directory.
	Catalog *store.Catalog

	// Embedder generates dense vectors for changed/new chunks.
	Embedder embed.Adapter

	// Chunking controls how each file's text is split (§4.2).
	Chunking chunk.Options

	// Paths controls which files a full reconciliation walk includes.
	Paths config.PathsConfig
}

// Coordinator applies watcher.FileEvent batches to a catalog: creates and
// modifications are rechunked and reembedded through the same path as a
// full indexing run (§4.6), deletions cascade, and gitignore/config
// changes trigger a full reconciliation pass since their effect on which
// files are in scope can't be derived from the event alone.
type Coordinator struct {
	cfg CoordinatorConfig
	mu  sync.Mutex
}

// NewCoordinator creates a Coordinator for cfg.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// HandleEvents applies a batch of file events, continuing past individual
// failures so one bad file doesn't block the rest of the batch.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, event := range events {
		if err := c.handleEvent(ctx, event); err != nil {
			slog.Warn("index_event_failed",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	if event.IsDir {
		return nil
	}

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return c.indexFile(ctx, event.Path)
	case watcher.OpDelete:
		return c.removeFile(ctx, event.Path)
	case watcher.OpRename:
		if event.OldPath != "" {
			if err := c.removeFile(ctx, event.OldPath); err != nil {
				return err
			}
		}
		return c.indexFile(ctx, event.Path)
	case watcher.OpGitignoreChange, watcher.OpConfigChange:
		return c.reconcile(ctx)
	default:
		return nil
	}
}

// indexFile rechunks and reembeds a single file, the one-file case of
// Runner.Run's changed-file path.
func (c *Coordinator) indexFile(ctx context.Context, relPath string) error {
	kind, ok := walk.DetectKind(relPath)
	if !ok || kind == walk.KindPDF {
		return nil
	}

	absPath := filepath.Join(c.cfg.RootDir, relPath)
	digest, err := walk.HashFile(absPath)
	if err != nil {
		return err
	}

	existing, found, err := c.cfg.Catalog.GetFileByPath(ctx, relPath)
	if err != nil {
		return err
	}
	if found && existing.Digest == digest {
		return nil
	}

	fi, err := os.Stat(absPath)
	if err != nil {
		return err
	}

	runner := NewRunner(c.cfg.Catalog)
	memo := store.NewEmbeddingMemo(c.cfg.Catalog.LookupFunc(ctx), store.DefaultEmbeddingMemoSize)
	if err := c.cfg.Embedder.Init(ctx); err != nil {
		return err
	}

	var timing stageTiming
	fileInfo := &walk.FileInfo{Path: relPath, AbsPath: absPath, ModTime: fi.ModTime(), Size: fi.Size(), Kind: kind}
	_, err = runner.reindexFile(ctx, RunnerConfig{
		RootDir:  c.cfg.RootDir,
		Embedder: c.cfg.Embedder,
		Chunking: c.cfg.Chunking,
	}, fileInfo, digest, fi.ModTime().UnixMilli(), c.cfg.Embedder.ModelID(), memo, found, &timing)
	return err
}

func (c *Coordinator) removeFile(ctx context.Context, relPath string) error {
	rec, found, err := c.cfg.Catalog.GetFileByPath(ctx, relPath)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return c.cfg.Catalog.DeleteFileCascade(ctx, rec.ID)
}

// reconcile runs a full indexing pass: a .gitignore or config change can
// bring any number of files into or out of scope, which a single-file event
// can't express.
func (c *Coordinator) reconcile(ctx context.Context) error {
	if err := c.cfg.Embedder.Init(ctx); err != nil {
		return err
	}
	runner := NewRunner(c.cfg.Catalog)
	_, err := runner.Run(ctx, RunnerConfig{
		RootDir:  c.cfg.RootDir,
		Embedder: c.cfg.Embedder,
		Chunking: c.cfg.Chunking,
		Paths:    c.cfg.Paths,
	})
	return err
}
