package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
)

// Catalog is a single named corpus: one SQLite file holding file records,
// chunks, a lexical shadow (FTS5), and page images/vectors for PDF
// documents, plus an in-process HNSW vector sidecar persisted to a sibling
// file. A catalog is opened by at most one indexing task at a time (see
// FileLock); reads are concurrent with writes at the SQLite level via WAL.
type Catalog struct {
	mu         sync.RWMutex
	db         *sql.DB
	dir        string
	name       string
	vectorPath string
	lock       *FileLock
	vectors    *HNSWStore
	meta       CatalogMeta
	closed     bool
}

// OpenOptions configures Open.
type OpenOptions struct {
	// SourceDirectory is recorded in metadata on first creation.
	SourceDirectory string
	// ModelID and Dim are the text embedding identity this catalog indexes
	// against. Opening an existing catalog whose stored identity differs is
	// refused unless AllowReset is set.
	ModelID   string
	Dim       int
	AllowReset bool
}

// dbFileName returns the catalog's primary storage file name under root
// (§6: "<root>/indexes/<name>.db").
func dbFileName(root, name string) string {
	return filepath.Join(root, "indexes", name+".db")
}

func vectorFileName(root, name string) string {
	return filepath.Join(root, "indexes", name+".hnsw")
}

// Open opens or creates the named catalog under root, acquiring its
// single-writer file lock. Callers must Close the returned Catalog.
func Open(root, name string, opts OpenOptions) (*Catalog, error) {
	path := dbFileName(root, name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.IO(apperr.CodeFilePermission, "create catalog directory", err)
	}

	lock := NewFileLock(filepath.Join(dir, name))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, apperr.IO(apperr.CodeCatalogLocked, "acquire catalog lock", err)
	}
	if !locked {
		return nil, apperr.Schema(apperr.CodeCatalogLocked, fmt.Sprintf("catalog %q is already open for writing", name), nil)
	}

	db, err := openSQLite(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	c := &Catalog{db: db, dir: dir, name: name, vectorPath: vectorFileName(root, name), lock: lock}
	if err := c.initSchema(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	if err := c.loadOrInitMeta(opts); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(c.meta.EmbeddingDim))
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, apperr.IO(apperr.CodeCacheLayout, "create vector sidecar", err)
	}
	c.vectors = vectors

	if err := c.vectors.Load(c.vectorPath); err != nil {
		if err := c.rebuildVectorSidecar(context.Background()); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, err
		}
	}

	return c, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, apperr.IO(apperr.CodeCacheLayout, "set catalog pragma", err)
		}
	}
	return db, nil
}

func (c *Catalog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		digest TEXT NOT NULL,
		size INTEGER NOT NULL,
		mtime_ms INTEGER NOT NULL,
		indexed_at_ms INTEGER NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY,
		file_id INTEGER NOT NULL REFERENCES files(id),
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		section_context TEXT NOT NULL,
		content_ts_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_cache_key ON chunks(cache_key);

	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id INTEGER PRIMARY KEY REFERENCES chunks(id),
		cache_key TEXT NOT NULL,
		embedding BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_cache_key ON chunk_embeddings(cache_key);

	CREATE VIRTUAL TABLE IF NOT EXISTS lexical USING fts5(
		path UNINDEXED,
		content,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS page_images (
		id INTEGER PRIMARY KEY,
		document_id INTEGER NOT NULL REFERENCES files(id),
		page_index INTEGER NOT NULL,
		image_hash TEXT NOT NULL,
		image_path TEXT NOT NULL,
		UNIQUE(document_id, page_index)
	);
	CREATE TABLE IF NOT EXISTS page_vectors (
		page_image_id INTEGER PRIMARY KEY REFERENCES page_images(id),
		vectors BLOB NOT NULL
	);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "initialize catalog schema", err)
	}
	return nil
}

func (c *Catalog) loadOrInitMeta(opts OpenOptions) error {
	existing, err := c.readMeta()
	if err != nil {
		return err
	}

	if existing == nil {
		dim := opts.Dim
		meta := CatalogMeta{
			SchemaVersion:   CurrentSchemaVersion,
			IndexName:       c.name,
			SourceDirectory: opts.SourceDirectory,
			ModelID:         opts.ModelID,
			EmbeddingDim:    dim,
		}
		if err := c.writeMeta(meta); err != nil {
			return err
		}
		c.meta = meta
		return nil
	}

	if existing.SchemaVersion > CurrentSchemaVersion {
		return apperr.Schema(apperr.CodeSchemaVersion,
			fmt.Sprintf("catalog %q schema_version %d is newer than this build supports (%d)", c.name, existing.SchemaVersion, CurrentSchemaVersion), nil)
	}

	mismatch := (opts.ModelID != "" && existing.ModelID != opts.ModelID) ||
		(opts.Dim != 0 && existing.EmbeddingDim != opts.Dim)
	if mismatch {
		if !opts.AllowReset {
			return apperr.Schema(apperr.CodeModelMismatch,
				fmt.Sprintf("catalog %q was built with model %q (dim %d); requested %q (dim %d) without reset",
					c.name, existing.ModelID, existing.EmbeddingDim, opts.ModelID, opts.Dim), nil).
				WithDetail("catalog", c.name)
		}
		if err := c.resetLocked(); err != nil {
			return err
		}
		meta := CatalogMeta{
			SchemaVersion:   CurrentSchemaVersion,
			IndexName:       c.name,
			SourceDirectory: opts.SourceDirectory,
			ModelID:         opts.ModelID,
			EmbeddingDim:    opts.Dim,
		}
		if err := c.writeMeta(meta); err != nil {
			return err
		}
		c.meta = meta
		return nil
	}

	if opts.SourceDirectory != "" {
		existing.SourceDirectory = opts.SourceDirectory
	}
	if err := c.writeMeta(*existing); err != nil {
		return err
	}
	c.meta = *existing
	return nil
}

// resetLocked clears all rows so a model/dimension change can start clean.
// Called only while the caller already holds an exclusive catalog lock.
func (c *Catalog) resetLocked() error {
	stmts := []string{
		"DELETE FROM page_vectors",
		"DELETE FROM page_images",
		"DELETE FROM chunk_embeddings",
		"DELETE FROM lexical",
		"DELETE FROM chunks",
		"DELETE FROM files",
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return apperr.IO(apperr.CodeCacheLayout, "reset catalog for model change", err)
		}
	}
	for _, p := range []string{c.vectorPath, c.vectorPath + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return apperr.IO(apperr.CodeCacheLayout, "remove vector sidecar for model change", err)
		}
	}
	return nil
}

func (c *Catalog) readMeta() (*CatalogMeta, error) {
	rows, err := c.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "read catalog metadata", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan catalog metadata", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "iterate catalog metadata", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	meta := CatalogMeta{
		IndexName:       values[MetaIndexName],
		SourceDirectory: values[MetaSourceDirectory],
		ModelID:         values[MetaModelID],
	}
	meta.SchemaVersion, _ = strconv.Atoi(values[MetaSchemaVersion])
	meta.EmbeddingDim, _ = strconv.Atoi(values[MetaEmbeddingDim])
	meta.TotalFiles, _ = strconv.Atoi(values[MetaTotalFiles])
	meta.TotalChunks, _ = strconv.Atoi(values[MetaTotalChunks])
	if ms, err := strconv.ParseInt(values[MetaLastIndexedAt], 10, 64); err == nil && ms > 0 {
		meta.LastIndexedAt = time.UnixMilli(ms)
	}
	return &meta, nil
}

func (c *Catalog) writeMeta(meta CatalogMeta) error {
	kv := map[string]string{
		MetaSchemaVersion:   strconv.Itoa(meta.SchemaVersion),
		MetaIndexName:       meta.IndexName,
		MetaSourceDirectory: meta.SourceDirectory,
		MetaModelID:         meta.ModelID,
		MetaEmbeddingDim:    strconv.Itoa(meta.EmbeddingDim),
		MetaTotalFiles:      strconv.Itoa(meta.TotalFiles),
		MetaTotalChunks:     strconv.Itoa(meta.TotalChunks),
	}
	if !meta.LastIndexedAt.IsZero() {
		kv[MetaLastIndexedAt] = strconv.FormatInt(meta.LastIndexedAt.UnixMilli(), 10)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "begin metadata write", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO meta(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "prepare metadata write", err)
	}
	defer stmt.Close()

	for k, v := range kv {
		if _, err := stmt.Exec(k, v); err != nil {
			return apperr.IO(apperr.CodeCacheLayout, "write catalog metadata", err)
		}
	}
	return tx.Commit()
}

// Meta returns the catalog's current persisted metadata.
func (c *Catalog) Meta() CatalogMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta
}

// RecordRun updates last_indexed_at and the total file/chunk counts after an
// indexing run completes.
func (c *Catalog) RecordRun(ctx context.Context, at time.Time, totalFiles, totalChunks int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.meta.LastIndexedAt = at
	c.meta.TotalFiles = totalFiles
	c.meta.TotalChunks = totalChunks
	return c.writeMeta(c.meta)
}

// Close persists the vector sidecar and releases the catalog's write lock.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.vectors != nil {
		if err := c.vectors.Save(c.vectorPath); err != nil {
			errs = append(errs, err)
		}
		if err := c.vectors.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// UpsertFile implements §4.5 upsert_file.
func (c *Catalog) UpsertFile(ctx context.Context, path, digest string, size, mtimeMS int64, metadataJSON string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO files(path, digest, size, mtime_ms, indexed_at_ms, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			digest = excluded.digest,
			size = excluded.size,
			mtime_ms = excluded.mtime_ms,
			indexed_at_ms = excluded.indexed_at_ms,
			metadata_json = excluded.metadata_json
	`, path, digest, size, mtimeMS, now, metadataJSON)
	if err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "upsert file record", err)
	}

	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		// ON CONFLICT UPDATE doesn't report a useful LastInsertId; look it up.
		var fileID int64
		if qerr := c.db.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, path).Scan(&fileID); qerr != nil {
			return 0, apperr.IO(apperr.CodeCacheLayout, "resolve upserted file id", qerr)
		}
		return fileID, nil
	}
	return id, nil
}

// VectorsForTest exposes the catalog's vector sidecar for tests in other
// packages that need to inject entries directly.
func (c *Catalog) VectorsForTest() *HNSWStore {
	return c.vectors
}

// AllChunkIDs returns every chunk id in the catalog, the source of truth
// for the lexical and vector sidecars (§4.5 consistency).
func (c *Catalog) AllChunkIDs(ctx context.Context) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return queryInt64s(ctx, c.db, `SELECT id FROM chunks`)
}

// AllLexicalRowIDs returns every rowid present in the lexical FTS5 shadow.
func (c *Catalog) AllLexicalRowIDs(ctx context.Context) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return queryInt64s(ctx, c.db, `SELECT rowid FROM lexical`)
}

// AllVectorChunkIDs returns every chunk id held in the vector sidecar.
func (c *Catalog) AllVectorChunkIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.vectors.AllIDs()
	out := make([]int64, 0, len(ids))
	for _, key := range ids {
		if id, ok := parseVectorKey(key); ok {
			out = append(out, id)
		}
	}
	return out
}

// DeleteLexicalRows removes orphaned rows from the lexical shadow by rowid.
func (c *Catalog) DeleteLexicalRows(ctx context.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM lexical WHERE rowid IN (%s)`, placeholderList(len(chunkIDs))), int64SliceToAny(chunkIDs)...)
	if err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "delete orphan lexical rows", err)
	}
	return nil
}

// DeleteVectorEntries removes orphaned entries from the vector sidecar.
func (c *Catalog) DeleteVectorEntries(ctx context.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		keys[i] = vectorKey(id)
	}
	if err := c.vectors.Delete(ctx, keys); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "delete orphan vector entries", err)
	}
	return nil
}

// ChunkCount returns the total number of chunk rows.
func (c *Catalog) ChunkCount(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "count chunks", err)
	}
	return n, nil
}

// LexicalCount returns the total number of rows in the lexical shadow.
func (c *Catalog) LexicalCount(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lexical`).Scan(&n); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "count lexical rows", err)
	}
	return n, nil
}

// VectorCount returns the number of entries held in the vector sidecar.
func (c *Catalog) VectorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vectors.Count()
}

func queryInt64s(ctx context.Context, db *sql.DB, query string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "query ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountChunksForFile returns how many chunk rows exist for fileID.
func (c *Catalog) CountChunksForFile(ctx context.Context, fileID int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE file_id = ?`, fileID).Scan(&n); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "count chunks for file", err)
	}
	return n, nil
}

// PageCount returns how many page_images rows exist, used to decide whether
// a catalog has vision content at all (§4.11 hybrid-mode fallback).
func (c *Catalog) PageCount(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_images`).Scan(&n); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "count page images", err)
	}
	return n, nil
}

// ChunkDetail is a chunk's content joined with its owning file's path and
// metadata, hydrated for the search lanes and the hybrid ranker (§4.8-4.11).
type ChunkDetail struct {
	ChunkID        int64
	FileID         int64
	Path           string
	MetadataJSON   string
	Ordinal        int
	Text           string
	SectionContext string
	ContentTSMS    *int64
}

// ChunkDetails hydrates a set of chunk IDs with their text and owning file's
// path/metadata, for result assembly and metadata filtering. IDs with no
// matching row are simply absent from the returned map.
func (c *Catalog) ChunkDetails(ctx context.Context, chunkIDs []int64) (map[int64]*ChunkDetail, error) {
	out := make(map[int64]*ChunkDetail, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT c.id, c.file_id, f.path, f.metadata_json, c.ordinal, c.text, c.section_context, c.content_ts_ms
		FROM chunks c JOIN files f ON f.id = c.file_id
		WHERE c.id IN (%s)
	`, placeholderList(len(chunkIDs)))

	rows, err := c.db.QueryContext(ctx, query, int64SliceToAny(chunkIDs)...)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "hydrate chunk details", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d ChunkDetail
		var contentTS sql.NullInt64
		if err := rows.Scan(&d.ChunkID, &d.FileID, &d.Path, &d.MetadataJSON, &d.Ordinal, &d.Text, &d.SectionContext, &contentTS); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan chunk detail row", err)
		}
		if contentTS.Valid {
			v := contentTS.Int64
			d.ContentTSMS = &v
		}
		out[d.ChunkID] = &d
	}
	return out, rows.Err()
}

// GetFileByPath returns the file record for path, if any.
func (c *Catalog) GetFileByPath(ctx context.Context, path string) (*FileRecord, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var rec FileRecord
	var indexedAtMS int64
	err := c.db.QueryRowContext(ctx, `
		SELECT id, path, digest, size, mtime_ms, indexed_at_ms, metadata_json FROM files WHERE path = ?
	`, path).Scan(&rec.ID, &rec.Path, &rec.Digest, &rec.Size, &rec.ModTimeMS, &indexedAtMS, &rec.MetadataJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.IO(apperr.CodeCacheLayout, "read file record", err)
	}
	rec.IndexedAt = time.UnixMilli(indexedAtMS)
	return &rec, true, nil
}

// ListFiles implements §4.5 list_files.
func (c *Catalog) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT id, path, digest, size, mtime_ms, indexed_at_ms, metadata_json FROM files`)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "list files", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		var rec FileRecord
		var indexedAtMS int64
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Digest, &rec.Size, &rec.ModTimeMS, &indexedAtMS, &rec.MetadataJSON); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan file record", err)
		}
		rec.IndexedAt = time.UnixMilli(indexedAtMS)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneMissing implements §4.5 prune_missing: deletes, with cascade, every
// file record whose path is absent from present.
func (c *Catalog) PruneMissing(ctx context.Context, present map[string]bool) (int, error) {
	files, err := c.ListFiles(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, f := range files {
		if present[f.Path] {
			continue
		}
		if err := c.DeleteFileCascade(ctx, f.ID); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// DeleteFileCascade implements §4.5 delete_file_cascade.
func (c *Catalog) DeleteFileCascade(ctx context.Context, fileID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	chunkIDs, err := c.chunkIDsForFileLocked(ctx, fileID)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "begin cascade delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(chunkIDs) > 0 {
		placeholders := placeholderList(len(chunkIDs))
		args := int64SliceToAny(chunkIDs)

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM chunk_embeddings WHERE chunk_id IN (%s)`, placeholders), args...); err != nil {
			return apperr.IO(apperr.CodeCacheLayout, "cascade delete embeddings", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM lexical WHERE rowid IN (%s)`, placeholders), args...); err != nil {
			return apperr.IO(apperr.CodeCacheLayout, "cascade delete lexical entries", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "cascade delete chunks", err)
	}

	pageIDs, err := pageImageIDsForDocumentTx(ctx, tx, fileID)
	if err != nil {
		return err
	}
	if len(pageIDs) > 0 {
		placeholders := placeholderList(len(pageIDs))
		args := int64SliceToAny(pageIDs)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM page_vectors WHERE page_image_id IN (%s)`, placeholders), args...); err != nil {
			return apperr.IO(apperr.CodeCacheLayout, "cascade delete page vectors", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_images WHERE document_id = ?`, fileID); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "cascade delete page images", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "cascade delete file record", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "commit cascade delete", err)
	}

	if len(chunkIDs) > 0 {
		ids := make([]string, len(chunkIDs))
		for i, id := range chunkIDs {
			ids[i] = vectorKey(id)
		}
		if err := c.vectors.Delete(ctx, ids); err != nil {
			slog.Warn("vector sidecar delete failed after cascade commit", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Catalog) chunkIDsForFileLocked(ctx context.Context, fileID int64) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "list chunk ids for file", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func pageImageIDsForDocumentTx(ctx context.Context, tx *sql.Tx, documentID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM page_images WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "list page image ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan page image id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertChunk implements §4.5 insert_chunk: atomically inserts into chunks,
// the lexical shadow, and the embedding cache table, then updates the
// in-process vector sidecar.
func (c *Catalog) InsertChunk(ctx context.Context, fileID int64, ord int, text string, embedding []float32, cacheKey, sectionContext string, contentTSMS *int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "begin chunk insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chunks(file_id, ordinal, text, cache_key, section_context, content_ts_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, fileID, ord, text, cacheKey, sectionContext, contentTSMS)
	if err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "insert chunk", err)
	}
	chunkID, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "read inserted chunk id", err)
	}

	path, err := filePathTx(ctx, tx, fileID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO lexical(rowid, path, content) VALUES (?, ?, ?)`, chunkID, path, text); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "insert lexical shadow entry", err)
	}

	encoded, err := EncodeEmbedding(embedding)
	if err != nil {
		return 0, apperr.Format(apperr.CodeCacheLayout, "encode chunk embedding", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunk_embeddings(chunk_id, cache_key, embedding) VALUES (?, ?, ?)
	`, chunkID, cacheKey, encoded); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "insert chunk embedding", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.IO(apperr.CodeCacheLayout, "commit chunk insert", err)
	}

	if err := c.vectors.Add(ctx, []string{vectorKey(chunkID)}, [][]float32{embedding}); err != nil {
		slog.Warn("vector sidecar add failed after chunk commit", slog.String("error", err.Error()))
	}

	return chunkID, nil
}

func filePathTx(ctx context.Context, tx *sql.Tx, fileID int64) (string, error) {
	var path string
	if err := tx.QueryRowContext(ctx, `SELECT path FROM files WHERE id = ?`, fileID).Scan(&path); err != nil {
		return "", apperr.IO(apperr.CodeCacheLayout, "resolve file path for chunk", err)
	}
	return path, nil
}

// LookupCachedEmbedding implements §4.5 lookup_cached_embedding.
func (c *Catalog) LookupCachedEmbedding(ctx context.Context, cacheKey string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var blob []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT embedding FROM chunk_embeddings WHERE cache_key = ? LIMIT 1
	`, cacheKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.IO(apperr.CodeCacheLayout, "lookup cached embedding", err)
	}
	vec, err := DecodeEmbedding(blob)
	if err != nil {
		return nil, false, apperr.Format(apperr.CodeCacheLayout, "decode cached embedding", err)
	}
	return vec, true, nil
}

// LookupFunc adapts LookupCachedEmbedding to store.LookupFunc for use with
// EmbeddingMemo.
func (c *Catalog) LookupFunc(ctx context.Context) LookupFunc {
	return func(cacheKey string) ([]float32, bool, error) {
		return c.LookupCachedEmbedding(ctx, cacheKey)
	}
}

// ChunkDistance is one hit from VecKNN.
type ChunkDistance struct {
	ChunkID  int64
	Distance float32
}

// VecKNN implements §4.5 vec_knn: nearest neighbors by distance ascending.
func (c *Catalog) VecKNN(ctx context.Context, queryVec []float32, k int) ([]ChunkDistance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results, err := c.vectors.Search(ctx, queryVec, k)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "vector knn search", err)
	}
	out := make([]ChunkDistance, 0, len(results))
	for _, r := range results {
		id, ok := parseVectorKey(r.ID)
		if !ok {
			continue
		}
		out = append(out, ChunkDistance{ChunkID: id, Distance: r.Distance})
	}
	return out, nil
}

// LexicalMatch implements §4.5 lexical_match: expr is a pre-built FTS5 MATCH
// expression (tokenized and escaped by the lexical search lane, §4.9).
func (c *Catalog) LexicalMatch(ctx context.Context, expr string, k int) ([]LexicalResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT rowid, bm25(lexical) FROM lexical WHERE lexical MATCH ? ORDER BY bm25(lexical) LIMIT ?
	`, expr, k)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, apperr.IO(apperr.CodeCacheLayout, "lexical match query", err)
	}
	defer rows.Close()

	var out []LexicalResult
	for rows.Next() {
		var chunkID int64
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan lexical match result", err)
		}
		// fts5 bm25() is negative-is-better; negate so higher means better.
		out = append(out, LexicalResult{ChunkID: chunkID, Score: -score})
	}
	return out, rows.Err()
}

// rebuildVectorSidecar restores the HNSW sidecar from chunk_embeddings when
// its persisted file is missing or unreadable, preserving the §3 invariant
// that the sidecar and chunks table agree after every committed transaction.
func (c *Catalog) rebuildVectorSidecar(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, `SELECT chunk_id, embedding FROM chunk_embeddings`)
	if err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "read embeddings for sidecar rebuild", err)
	}
	defer rows.Close()

	var ids []string
	var vecs [][]float32
	for rows.Next() {
		var chunkID int64
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return apperr.IO(apperr.CodeCacheLayout, "scan embedding for sidecar rebuild", err)
		}
		vec, err := DecodeEmbedding(blob)
		if err != nil {
			return apperr.Format(apperr.CodeCacheLayout, "decode embedding for sidecar rebuild", err)
		}
		ids = append(ids, vectorKey(chunkID))
		vecs = append(vecs, vec)
	}
	if err := rows.Err(); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "iterate embeddings for sidecar rebuild", err)
	}
	if len(ids) == 0 {
		return nil
	}
	return c.vectors.Add(ctx, ids, vecs)
}

func vectorKey(chunkID int64) string {
	return "chunk:" + strconv.FormatInt(chunkID, 10)
}

func parseVectorKey(key string) (int64, bool) {
	const prefix = "chunk:"
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func placeholderList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

func int64SliceToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// EncodeEmbedding packs a float32 vector as little-endian bytes.
func EncodeEmbedding(vec []float32) ([]byte, error) {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// DecodeEmbedding unpacks a vector encoded by EncodeEmbedding.
func DecodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
