// Package retrieval is the library's public surface: it wires the
// walker/chunker/embedder pipeline (§4.1-§4.7), the catalog store (§4.5),
// and the hybrid search ranker (§4.8-§4.11) behind a small set of
// consumer-facing types. Callers that only need one of these concerns can
// still reach for the internal packages directly; Engine and Searcher exist
// for the common case of "index a directory, then search it."
package retrieval

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
	"github.com/aman-cerp/retrieval-skill/internal/chunk"
	"github.com/aman-cerp/retrieval-skill/internal/config"
	"github.com/aman-cerp/retrieval-skill/internal/embed"
	"github.com/aman-cerp/retrieval-skill/internal/index"
	"github.com/aman-cerp/retrieval-skill/internal/search"
	"github.com/aman-cerp/retrieval-skill/internal/store"
	"github.com/aman-cerp/retrieval-skill/internal/watcher"
)

// DefaultCatalogRoot returns "<home>/.retrieval-skill", the default root
// under which catalog files live (§6 "<root> defaults to ~/.retrieval-skill").
func DefaultCatalogRoot() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".retrieval-skill")
	}
	return ".retrieval-skill"
}

// Options configures Open.
type Options struct {
	// RootDir is the corpus directory to index and watch.
	RootDir string

	// CatalogRoot is the directory under which "indexes/<name>.db" and its
	// siblings live.
	// Defaults to DefaultCatalogRoot().
	CatalogRoot string

	// CatalogName names this catalog within CatalogRoot.
	CatalogName string

	// TextEmbedder produces the dense chunk/query vectors (§4.4). Required.
	TextEmbedder embed.Adapter

	// VisionEmbedder produces page image/query token vectors (§4.7). Nil
	// disables the vision indexer and vision/hybrid search lanes.
	VisionEmbedder embed.Adapter

	// AllowReset permits opening a catalog whose persisted model identity
	// differs from TextEmbedder's, discarding its contents (§9 Open
	// Question 1).
	AllowReset bool

	// Paths controls which files the walker includes/excludes (§4.1).
	Paths config.PathsConfig

	// Chunking controls markdown/text chunking (§4.2). Zero value uses
	// chunk's defaults.
	Chunking chunk.Options

	// ImageOutDir is where extracted PDF page images are written. Defaults
	// to "<CatalogRoot>/pages/<CatalogName>".
	ImageOutDir string
}

// Engine owns one catalog plus the pipeline components that read from and
// write to it: the incremental indexer (§4.6), the vision indexer (§4.7),
// the watch-mode coordinator (§12 Supplemented Features), and consistency
// checks (§8). Safe for concurrent use by multiple goroutines except where
// a method doc says otherwise — the catalog's own writer lock (§5) still
// serializes concurrent mutating calls across processes.
type Engine struct {
	opts     Options
	catalog  *store.Catalog
	runner   *index.Runner
	vision   *index.VisionRunner
	checker  *index.ConsistencyChecker
	watch    *watcher.HybridWatcher
	coord    *index.Coordinator
	watchErr chan error
}

// Open creates or opens the named catalog under opts.CatalogRoot and
// returns an Engine ready to index and search it.
func Open(opts Options) (*Engine, error) {
	if opts.TextEmbedder == nil {
		return nil, apperr.Configuration(apperr.CodeInvalidOption, "a text embedder is required", nil)
	}
	root := opts.CatalogRoot
	if root == "" {
		root = DefaultCatalogRoot()
	}
	if opts.CatalogName == "" {
		return nil, apperr.Configuration(apperr.CodeInvalidOption, "a catalog name is required", nil)
	}

	ctx := context.Background()
	if err := opts.TextEmbedder.Init(ctx); err != nil {
		return nil, err
	}
	if opts.VisionEmbedder != nil {
		if err := opts.VisionEmbedder.Init(ctx); err != nil {
			return nil, err
		}
	}

	catalog, err := store.Open(root, opts.CatalogName, store.OpenOptions{
		SourceDirectory: opts.RootDir,
		ModelID:         opts.TextEmbedder.ModelID(),
		Dim:             opts.TextEmbedder.EmbeddingDim(),
		AllowReset:      opts.AllowReset,
	})
	if err != nil {
		return nil, err
	}

	if opts.ImageOutDir == "" {
		opts.ImageOutDir = filepath.Join(root, "pages", opts.CatalogName)
	}

	e := &Engine{
		opts:    opts,
		catalog: catalog,
		runner:  index.NewRunner(catalog),
		vision:  index.NewVisionRunner(catalog),
		checker: index.NewConsistencyChecker(catalog),
	}
	return e, nil
}

// Index runs one incremental indexing pass over opts.RootDir (§4.6).
func (e *Engine) Index(ctx context.Context) (*index.RunnerResult, error) {
	return e.runner.Run(ctx, index.RunnerConfig{
		RootDir:  e.opts.RootDir,
		Embedder: e.opts.TextEmbedder,
		Chunking: e.opts.Chunking,
		Paths:    e.opts.Paths,
	})
}

// IndexVision runs one vision indexing pass over opts.RootDir's PDFs
// (§4.7). Returns a ConfigurationError if no VisionEmbedder was configured.
func (e *Engine) IndexVision(ctx context.Context) (*index.VisionRunnerResult, error) {
	if e.opts.VisionEmbedder == nil {
		return nil, apperr.Configuration(apperr.CodeAdapterKindMismatch, "no vision embedder configured", nil)
	}
	return e.vision.Run(ctx, index.VisionRunnerConfig{
		RootDir:     e.opts.RootDir,
		Embedder:    e.opts.VisionEmbedder,
		ImageOutDir: e.opts.ImageOutDir,
		Paths:       e.opts.Paths,
	})
}

// Check runs a full consistency pass over the catalog's chunks/lexical/
// vector tables (§8 Testable Properties 3-4).
func (e *Engine) Check(ctx context.Context) (*index.CheckResult, error) {
	return e.checker.Check(ctx)
}

// Repair applies the fixes for a previously detected CheckResult's issues.
func (e *Engine) Repair(ctx context.Context, issues []index.Inconsistency) error {
	return e.checker.Repair(ctx, issues)
}

// Watch starts filesystem-event-driven incremental reindexing (§12
// "Directory watch mode"): changes under RootDir are debounced and applied
// through the same per-file reindex path as Index. Call Stop (or cancel
// ctx) to stop watching; Watch itself returns once the watcher has been
// started in the background. An error from starting the watcher is sent
// to WatchErrors.
func (e *Engine) Watch(ctx context.Context) error {
	if e.watch != nil {
		return apperr.Configuration(apperr.CodeInvalidOption, "watch already running", nil)
	}
	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		return err
	}
	e.watch = w
	e.coord = index.NewCoordinator(index.CoordinatorConfig{
		RootDir:  e.opts.RootDir,
		Catalog:  e.catalog,
		Embedder: e.opts.TextEmbedder,
		Chunking: e.opts.Chunking,
		Paths:    e.opts.Paths,
	})
	e.watchErr = make(chan error, 1)

	go func() {
		if err := w.Start(ctx, e.opts.RootDir); err != nil && ctx.Err() == nil {
			select {
			case e.watchErr <- err:
			default:
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case events, ok := <-w.Events():
				if !ok {
					return
				}
				if err := e.coord.HandleEvents(ctx, events); err != nil {
					select {
					case e.watchErr <- err:
					default:
					}
				}
			}
		}
	}()
	return nil
}

// WatchErrors returns a channel of asynchronous errors encountered while
// starting the watcher or applying watched events. Returns nil if Watch was
// never called; a receive from a nil channel blocks forever.
func (e *Engine) WatchErrors() <-chan error {
	return e.watchErr
}

// StopWatch stops a watcher started by Watch. A no-op if Watch was never
// called.
func (e *Engine) StopWatch() error {
	if e.watch == nil {
		return nil
	}
	err := e.watch.Stop()
	e.watch = nil
	e.coord = nil
	return err
}

// Meta returns the catalog's persisted metadata (§6 "Persisted meta keys").
func (e *Engine) Meta() store.CatalogMeta {
	return e.catalog.Meta()
}

// Source exposes this engine's catalog and embedders as a search.CatalogSource
// for use with Searcher.
func (e *Engine) Source() search.CatalogSource {
	return search.CatalogSource{
		Catalog:        e.catalog,
		TextEmbedder:   e.opts.TextEmbedder,
		VisionEmbedder: e.opts.VisionEmbedder,
	}
}

// Close releases the catalog's resources, including its writer lock. Stops
// a running watcher first.
func (e *Engine) Close() error {
	_ = e.StopWatch()
	if e.opts.VisionEmbedder != nil {
		_ = e.opts.VisionEmbedder.Dispose()
	}
	_ = e.opts.TextEmbedder.Dispose()
	return e.catalog.Close()
}
