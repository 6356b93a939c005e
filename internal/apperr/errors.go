// Package apperr provides the structured error taxonomy used throughout the
// indexing and retrieval engine: IOError, FormatError, EmbeddingError,
// SchemaError, ConfigurationError, and Cancelled.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a tagged error variant. Every Error carries exactly one Kind.
type Kind string

const (
	// KindIO covers file/directory access, subprocess pipes, sockets.
	KindIO Kind = "IO_ERROR"
	// KindFormat covers front-matter parse failures, chunk-cache layout
	// corruption, and malformed vision multi-vector blobs.
	KindFormat Kind = "FORMAT_ERROR"
	// KindEmbedding covers upstream embedding service failures: non-2xx,
	// dimension mismatch, NaN components.
	KindEmbedding Kind = "EMBEDDING_ERROR"
	// KindSchema covers incompatible schema_version or catalog model_id
	// mismatch.
	KindSchema Kind = "SCHEMA_ERROR"
	// KindConfiguration covers adapter capability misuse and invalid options.
	KindConfiguration Kind = "CONFIGURATION_ERROR"
	// KindCancelled covers cooperative cancellation.
	KindCancelled Kind = "CANCELLED"
)

// Error is the structured error type returned by every package in this
// module. It always has a Kind; Code is a stable machine-readable code within
// that kind for logging and metrics.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by Kind (and Code when both sides set one), so callers can use
// errors.Is(err, apperr.Schema(apperr.CodeModelMismatch, "", nil)) or
// errors.Is(err, apperr.Sentinel(apperr.KindSchema)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Code == "" {
		return true
	}
	return t.Code == e.Code
}

// WithDetail attaches a key-value pair of diagnostic context and returns the
// same error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func new(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// IO wraps an I/O failure (file, directory, subprocess pipe, socket).
func IO(code, message string, cause error) *Error {
	return new(KindIO, code, message, cause)
}

// Format wraps a format/parse failure.
func Format(code, message string, cause error) *Error {
	return new(KindFormat, code, message, cause)
}

// Embedding wraps an embedding-provider failure.
func Embedding(code, message string, cause error) *Error {
	return new(KindEmbedding, code, message, cause)
}

// Schema wraps a catalog schema/model incompatibility.
func Schema(code, message string, cause error) *Error {
	return new(KindSchema, code, message, cause)
}

// Configuration wraps a misuse of adapter capabilities or invalid options.
func Configuration(code, message string, cause error) *Error {
	return new(KindConfiguration, code, message, cause)
}

// Cancelled wraps a cooperative cancellation, normally ctx.Err().
func Cancelled(cause error) *Error {
	return new(KindCancelled, "CANCELLED", "operation cancelled", cause)
}

// Sentinel returns a zero-code *Error of the given kind, usable as the
// target of errors.Is to test only the kind and ignore the code.
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// IsCancelled reports whether err is a Cancelled error or wraps ctx.Canceled
// / ctx.DeadlineExceeded.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, Sentinel(KindCancelled)) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is worth retrying at the adapter boundary.
// Only EmbeddingError is ever retryable; the retry policy itself (backoff
// schedule) is EmbeddingBackoff and Retry in retry.go.
func Retryable(err error) bool {
	return KindOf(err) == KindEmbedding
}
