package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingMemoCachesLookupResult(t *testing.T) {
	calls := 0
	lookup := func(key string) ([]float32, bool, error) {
		calls++
		return []float32{1, 2, 3}, true, nil
	}

	memo := NewEmbeddingMemo(lookup, 10)

	vec, ok, err := memo.Get("key-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)

	_, _, err = memo.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestEmbeddingMemoMissPassesThroughNotFound(t *testing.T) {
	lookup := func(key string) ([]float32, bool, error) {
		return nil, false, nil
	}
	memo := NewEmbeddingMemo(lookup, 10)

	_, ok, err := memo.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmbeddingMemoPropagatesLookupError(t *testing.T) {
	boom := errors.New("boom")
	lookup := func(key string) ([]float32, bool, error) {
		return nil, false, boom
	}
	memo := NewEmbeddingMemo(lookup, 10)

	_, _, err := memo.Get("key")
	require.ErrorIs(t, err, boom)
}

func TestEmbeddingMemoPutAvoidsLookupOnSubsequentGet(t *testing.T) {
	calls := 0
	lookup := func(key string) ([]float32, bool, error) {
		calls++
		return nil, false, nil
	}
	memo := NewEmbeddingMemo(lookup, 10)
	memo.Put("key", []float32{9})

	vec, ok, err := memo.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{9}, vec)
	assert.Equal(t, 0, calls)
}

func TestEmbeddingMemoInvalidateForcesNextLookup(t *testing.T) {
	calls := 0
	lookup := func(key string) ([]float32, bool, error) {
		calls++
		return []float32{float32(calls)}, true, nil
	}
	memo := NewEmbeddingMemo(lookup, 10)

	v1, _, _ := memo.Get("key")
	memo.Invalidate("key")
	v2, _, _ := memo.Get("key")

	assert.NotEqual(t, v1, v2)
	assert.Equal(t, 2, calls)
}
