package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   Kind
	}{
		{Validation("bad input", nil), http.StatusBadRequest, KindValidation},
		{NotFound("missing"), http.StatusNotFound, KindNotFound},
		{Duplicate("abc"), http.StatusConflict, KindDuplicateContent},
		{StoreUnavailable(errors.New("down")), http.StatusServiceUnavailable, KindStoreUnavailable},
		{ConnectionExhausted(errors.New("pool")), http.StatusServiceUnavailable, KindConnExhausted},
		{EmbedderUnavailable(errors.New("down")), http.StatusBadGateway, KindEmbedderDown},
		{LlmUnavailable(errors.New("down")), http.StatusBadGateway, KindLlmDown},
		{RateLimited(30), http.StatusTooManyRequests, KindRateLimited},
		{ChunkingError(errors.New("oversized")), http.StatusInternalServerError, KindChunkingError},
	}

	for _, tt := range tests {
		e, ok := As(tt.err)
		require.True(t, ok)
		assert.Equal(t, tt.status, e.Status)
		assert.Equal(t, tt.kind, e.Kind)
		assert.Equal(t, tt.status, StatusFor(tt.err))
	}
}

func TestStatusForUntypedError(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}

func TestAsUnwrapsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("ingest document: %w", EmbedderUnavailable(errors.New("dial refused")))
	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindEmbedderDown, e.Kind)
}

func TestMessageDoesNotLeakCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: password authentication failed")
	e := StoreUnavailable(cause)
	assert.NotContains(t, e.Message(), "password")
	assert.ErrorIs(t, e, cause)
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	e := RateLimited(30)
	assert.Equal(t, 30, e.Details["retry_after"])
}

func TestDuplicateCarriesExistingID(t *testing.T) {
	e := Duplicate("doc-123")
	assert.Equal(t, "doc-123", e.Details["content_id"])
}
