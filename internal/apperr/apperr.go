// Package apperr defines the error-kind taxonomy shared across the
// ingestion, search, Q&A, and scheduling pipelines so that the HTTP layer
// can map any failure to the right status code without inspecting
// component-specific error types.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP status mapping.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindDuplicateContent  Kind = "duplicate_content"
	KindStoreUnavailable  Kind = "store_unavailable"
	KindConnExhausted     Kind = "connection_exhausted"
	KindEmbedderDown      Kind = "embedder_unavailable"
	KindRerankerDown      Kind = "reranker_unavailable"
	KindLlmDown           Kind = "llm_unavailable"
	KindRateLimited       Kind = "rate_limited"
	KindChunkingError     Kind = "chunking_error"
	KindCancelled         Kind = "cancelled"
)

// Error is a typed, wrapped error carrying an HTTP status and a kind that
// downstream components can branch on (e.g. Search treats RerankerDown as
// non-fatal, Ingestor treats EmbedderDown as fatal).
type Error struct {
	Kind    Kind
	Status  int
	Msg     string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.cause }

// Message returns a caller-safe message: no file paths, no credentials,
// just the taxonomy-level description.
func (e *Error) Message() string { return e.Msg }

func newErr(kind Kind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Msg: msg, cause: cause}
}

func Validation(msg string, details map[string]any) *Error {
	e := newErr(KindValidation, http.StatusBadRequest, msg, nil)
	e.Details = details
	return e
}

func NotFound(msg string) *Error {
	return newErr(KindNotFound, http.StatusNotFound, msg, nil)
}

// Duplicate returns a 409 carrying the existing document id so ingest
// stays idempotent from the caller's point of view.
func Duplicate(existingID string) *Error {
	e := newErr(KindDuplicateContent, http.StatusConflict, "content already exists", nil)
	e.Details = map[string]any{"content_id": existingID}
	return e
}

func StoreUnavailable(cause error) *Error {
	return newErr(KindStoreUnavailable, http.StatusServiceUnavailable, "store unavailable", cause)
}

func ConnectionExhausted(cause error) *Error {
	return newErr(KindConnExhausted, http.StatusServiceUnavailable, "connection pool exhausted", cause)
}

func EmbedderUnavailable(cause error) *Error {
	return newErr(KindEmbedderDown, http.StatusBadGateway, "embedder unavailable", cause)
}

func RerankerUnavailable(cause error) *Error {
	return newErr(KindRerankerDown, http.StatusOK, "reranker unavailable", cause)
}

func LlmUnavailable(cause error) *Error {
	return newErr(KindLlmDown, http.StatusBadGateway, "llm unavailable", cause)
}

func RateLimited(retryAfterSeconds int) *Error {
	e := newErr(KindRateLimited, http.StatusTooManyRequests, "rate limited", nil)
	e.Details = map[string]any{"retry_after": retryAfterSeconds}
	return e
}

func ChunkingError(cause error) *Error {
	return newErr(KindChunkingError, http.StatusInternalServerError, "chunking failed", cause)
}

func Cancelled(cause error) *Error {
	return newErr(KindCancelled, 499, "operation cancelled", cause)
}

// As extracts an *Error from err, if any wraps it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusFor returns the HTTP status for err, defaulting to 500 for
// untyped errors.
func StatusFor(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
