// Package embed provides the uniform text/vision embedding adapter
// abstraction (§4.4) and its two concrete implementations: an HTTP client
// against an OpenAI-compatible text embedding endpoint, and a subprocess
// client for the vision token-embedding worker.
package embed

import (
	"context"
	"math"
	"time"

	"github.com/aman-cerp/retrieval-skill/internal/apperr"
)

// Vector is a single dense or token embedding.
type Vector []float32

// Kind distinguishes the two embedding adapter capability sets.
type Kind string

const (
	KindText   Kind = "text"
	KindVision Kind = "vision"
)

const (
	DefaultBatchSize        = 32
	DefaultTimeout          = 60 * time.Second
	DefaultBatchConcurrency = 1
)

// Adapter is the uniform surface over text-dense and vision-multi-vector
// providers. A concrete adapter only supports the methods appropriate to
// its Kind(); calling the other capability set returns a ConfigurationError
// rather than silently returning empty results (§4.4).
type Adapter interface {
	Kind() Kind
	Init(ctx context.Context) error
	ModelID() string
	EmbeddingDim() int
	Dispose() error

	// EmbedQuery returns a single vector for text adapters, or the
	// multi-vector token representation of the query for vision adapters.
	EmbedQuery(ctx context.Context, text string) ([]Vector, error)

	// EmbedDocuments is valid only on a text adapter.
	EmbedDocuments(ctx context.Context, texts []string) ([]Vector, error)

	// EmbedImages is valid only on a vision adapter: one multi-vector
	// token representation per page image.
	EmbedImages(ctx context.Context, imagePaths []string) ([][]Vector, error)

	// ExtractPages is valid only on a vision adapter.
	ExtractPages(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

func wrongKind(method string, got Kind) error {
	return apperr.Configuration(apperr.CodeAdapterKindMismatch,
		method+" is not supported by a "+string(got)+" adapter", nil).
		WithDetail("method", method).
		WithDetail("kind", string(got))
}

// normalizeVector scales v to unit L2 length so dot product equals cosine
// similarity. A zero vector is returned unchanged.
func normalizeVector(v []float32) Vector {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return v
	}
	magnitude := math.Sqrt(sumSquares)

	out := make(Vector, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
