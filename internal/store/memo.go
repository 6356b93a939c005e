package store

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingMemoSize is the default number of chunk embeddings kept
// warm in process memory.
const DefaultEmbeddingMemoSize = 1000

// LookupFunc retrieves a persisted embedding for a chunk cache key (§4.1,
// digest(chunk_text || model_id)), e.g. a catalog's lookup_cached_embedding
// query against its chunk_embeddings table. The second return reports
// whether a row was found.
type LookupFunc func(key string) ([]float32, bool, error)

// EmbeddingMemo is an in-process LRU layer in front of a catalog's
// lookup_cached_embedding, so a chunk cache key looked up more than once
// within a single indexing run costs one SQLite read instead of many.
type EmbeddingMemo struct {
	lookup LookupFunc
	cache  *lru.Cache[string, []float32]
}

// NewEmbeddingMemo wraps lookup with an LRU cache of the given size.
func NewEmbeddingMemo(lookup LookupFunc, size int) *EmbeddingMemo {
	if size <= 0 {
		size = DefaultEmbeddingMemoSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &EmbeddingMemo{lookup: lookup, cache: cache}
}

// Get returns the cached embedding for key, falling back to the wrapped
// lookup on a miss and populating the cache on a hit from the catalog.
func (m *EmbeddingMemo) Get(key string) ([]float32, bool, error) {
	if vec, ok := m.cache.Get(key); ok {
		return vec, true, nil
	}

	vec, found, err := m.lookup(key)
	if err != nil {
		return nil, false, err
	}
	if found {
		m.cache.Add(key, vec)
	}
	return vec, found, nil
}

// Put records a freshly computed embedding without a catalog round-trip,
// used right after an indexer writes a new chunk_embeddings row.
func (m *EmbeddingMemo) Put(key string, vec []float32) {
	m.cache.Add(key, vec)
}

// Invalidate drops key, used when a chunk's content changes and its cache
// key is superseded.
func (m *EmbeddingMemo) Invalidate(key string) {
	m.cache.Remove(key)
}
