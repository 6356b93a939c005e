package walk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
)

// HashFile returns the hex-encoded content digest of path's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChunkCacheKey returns the hex-encoded cache key for a chunk text and model
// identity: digest(chunk_text ∥ model_id), length-prefixed so the
// concatenation is injective.
func ChunkCacheKey(chunkText, modelID string) string {
	h := sha256.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(chunkText)))
	h.Write(lenBuf[:])
	h.Write([]byte(chunkText))
	h.Write([]byte(modelID))
	return hex.EncodeToString(h.Sum(nil))
}
