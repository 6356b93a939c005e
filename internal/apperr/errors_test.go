package apperr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKindAndCode(t *testing.T) {
	e1 := Schema(CodeModelMismatch, "model changed", nil)
	e2 := Schema(CodeModelMismatch, "different message, same code", nil)
	e3 := Schema(CodeSchemaVersion, "different code", nil)

	assert.True(t, errors.Is(e1, e2))
	assert.False(t, errors.Is(e1, e3))
	assert.True(t, errors.Is(e1, Sentinel(KindSchema)))
	assert.False(t, errors.Is(e1, Sentinel(KindIO)))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := IO(CodeFileNotFound, "cannot read", cause)
	require.ErrorIs(t, wrapped, cause)
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Cancelled(context.Canceled)))
	assert.True(t, IsCancelled(context.DeadlineExceeded))
	assert.False(t, IsCancelled(errors.New("other")))
	assert.False(t, IsCancelled(nil))
}

func TestRetryableOnlyForEmbedding(t *testing.T) {
	assert.True(t, Retryable(Embedding(CodeEmbeddingHTTPStatus, "502", nil)))
	assert.False(t, Retryable(Schema(CodeSchemaVersion, "x", nil)))
	assert.False(t, Retryable(nil))
}

func TestWithDetail(t *testing.T) {
	err := Format(CodeFrontMatterParse, "bad yaml", nil).WithDetail("path", "a.md")
	assert.Equal(t, "a.md", err.Details["path"])
}
