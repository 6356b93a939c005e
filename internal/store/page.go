package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
)

// EncodePageVector packs a PDF page's multi-vector token representation
// (§4.7, §6): num_vectors, then num_vectors × dim × float32, little-endian.
func EncodePageVector(vectors [][]float32) ([]byte, error) {
	if len(vectors) == 0 {
		buf := make([]byte, 4)
		return buf, nil
	}
	dim := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dim {
			return nil, apperr.Format(apperr.CodePageVectorLayout, "page vectors have inconsistent dimension", nil)
		}
	}

	buf := make([]byte, 4+len(vectors)*dim*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vectors)))
	off := 4
	for _, v := range vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(f))
			off += 4
		}
	}
	return buf, nil
}

// DecodePageVector unpacks a blob written by EncodePageVector. dim must be
// supplied by the caller (the catalog's embedding_dim for vision vectors
// isn't recorded per-blob, only the vector count is).
func DecodePageVector(blob []byte, dim int) ([][]float32, error) {
	if len(blob) < 4 {
		return nil, apperr.Format(apperr.CodePageVectorLayout, "page vector blob too short", nil)
	}
	n := int(binary.LittleEndian.Uint32(blob[0:4]))
	if n == 0 {
		return nil, nil
	}
	want := 4 + n*dim*4
	if len(blob) != want {
		return nil, apperr.Format(apperr.CodePageVectorLayout,
			fmt.Sprintf("page vector blob length %d does not match header (expected %d for %d vectors of dim %d)", len(blob), want, n, dim), nil)
	}

	vectors := make([][]float32, n)
	off := 4
	for i := 0; i < n; i++ {
		v := make([]float32, dim)
		for j := 0; j < dim; j++ {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off : off+4]))
			off += 4
		}
		vectors[i] = v
	}
	return vectors, nil
}

// hasNaN reports whether any component of any vector is NaN (§4.7: a page
// with a NaN component is skipped entirely).
func hasNaN(vectors [][]float32) bool {
	for _, v := range vectors {
		for _, f := range v {
			if math.IsNaN(float64(f)) {
				return true
			}
		}
	}
	return false
}

// UpsertPageVector implements §4.7 step 3: records a page's image and its
// token vectors in one transaction, skipping (with ok=false) pages whose
// vectors contain a NaN component.
func (c *Catalog) UpsertPageVector(ctx context.Context, documentID int64, pageIndex int, imageHash, imagePath string, vectors [][]float32) (ok bool, err error) {
	if hasNaN(vectors) {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.IO(apperr.CodeCacheLayout, "begin page vector upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO page_images(document_id, page_index, image_hash, image_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id, page_index) DO UPDATE SET
			image_hash = excluded.image_hash,
			image_path = excluded.image_path
	`, documentID, pageIndex, imageHash, imagePath)
	if err != nil {
		return false, apperr.IO(apperr.CodeCacheLayout, "upsert page image", err)
	}

	pageImageID, err := res.LastInsertId()
	if err != nil || pageImageID == 0 {
		if qerr := tx.QueryRowContext(ctx, `
			SELECT id FROM page_images WHERE document_id = ? AND page_index = ?
		`, documentID, pageIndex).Scan(&pageImageID); qerr != nil {
			return false, apperr.IO(apperr.CodeCacheLayout, "resolve upserted page image id", qerr)
		}
	}

	encoded, err := EncodePageVector(vectors)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO page_vectors(page_image_id, vectors) VALUES (?, ?)
		ON CONFLICT(page_image_id) DO UPDATE SET vectors = excluded.vectors
	`, pageImageID, encoded); err != nil {
		return false, apperr.IO(apperr.CodeCacheLayout, "upsert page vectors", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperr.IO(apperr.CodeCacheLayout, "commit page vector upsert", err)
	}
	return true, nil
}

// GetPageImage returns the page_images row for (documentID, pageIndex), for
// the incremental skip check in §4.7 ("skip a page whose
// (document_id, page_index, image_hash) already exists unchanged").
func (c *Catalog) GetPageImage(ctx context.Context, documentID int64, pageIndex int) (*PageImage, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var img PageImage
	err := c.db.QueryRowContext(ctx, `
		SELECT id, document_id, page_index, image_hash, image_path
		FROM page_images WHERE document_id = ? AND page_index = ?
	`, documentID, pageIndex).Scan(&img.ID, &img.DocumentID, &img.PageIndex, &img.ImageHash, &img.ImagePath)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.IO(apperr.CodeCacheLayout, "read page image", err)
	}
	return &img, true, nil
}

// AllPageVectors returns every page's token vectors for a catalog, decoded
// against dim, for the vision search lane's in-process MaxSim pass (§4.10).
func (c *Catalog) AllPageVectors(ctx context.Context, dim int) (map[PageImage][][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT pi.id, pi.document_id, pi.page_index, pi.image_hash, pi.image_path, pv.vectors
		FROM page_images pi JOIN page_vectors pv ON pv.page_image_id = pi.id
	`)
	if err != nil {
		return nil, apperr.IO(apperr.CodeCacheLayout, "list page vectors", err)
	}
	defer rows.Close()

	out := make(map[PageImage][][]float32)
	for rows.Next() {
		var img PageImage
		var blob []byte
		if err := rows.Scan(&img.ID, &img.DocumentID, &img.PageIndex, &img.ImageHash, &img.ImagePath, &blob); err != nil {
			return nil, apperr.IO(apperr.CodeCacheLayout, "scan page vector row", err)
		}
		vectors, err := DecodePageVector(blob, dim)
		if err != nil {
			return nil, err
		}
		out[img] = vectors
	}
	return out, rows.Err()
}

// DeletePageImagesForDocument removes a document's page images/vectors
// outside of DeleteFileCascade, used when a PDF is reindexed in place
// (the vision indexer doesn't always delete+recreate the owning file row).
func (c *Catalog) DeletePageImagesForDocument(ctx context.Context, documentID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "begin page image delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM page_vectors WHERE page_image_id IN (SELECT id FROM page_images WHERE document_id = ?)
	`, documentID); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "delete page vectors", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM page_images WHERE document_id = ?`, documentID); err != nil {
		return apperr.IO(apperr.CodeCacheLayout, "delete page images", err)
	}
	return tx.Commit()
}
