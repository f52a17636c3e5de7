package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall/recalld/internal/apperr"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func echoEmbeddings(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		embeddings := make([][]float64, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float64{float64(i), float64(len(req.Input[i])), 0}
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: embeddings})
	}
}

func TestEmbedPreservesInputOrder(t *testing.T) {
	srv := newServer(t, echoEmbeddings(t))
	e := New(Config{URL: srv.URL, Model: "m", Dimension: 3, BatchSize: 10, Timeout: time.Second})

	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][1])
	assert.Equal(t, float32(2), vecs[1][1])
	assert.Equal(t, float32(3), vecs[2][1])
}

func TestEmbedBatchesLargeInput(t *testing.T) {
	var requests atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		echoEmbeddings(t)(w, r)
	})
	e := New(Config{URL: srv.URL, Model: "m", Dimension: 3, BatchSize: 2, Timeout: time.Second})

	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int32(3), requests.Load())
}

func TestEmbedRetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		echoEmbeddings(t)(w, r)
	})
	e := New(Config{URL: srv.URL, Model: "m", Dimension: 3, BatchSize: 10, Timeout: time.Second, MaxRetries: 2})

	vecs, err := e.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestEmbedExhaustedRetriesTyped(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	e := New(Config{URL: srv.URL, Model: "m", BatchSize: 10, Timeout: time.Second, MaxRetries: 1})

	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindEmbedderDown, typed.Kind)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := newServer(t, echoEmbeddings(t))
	e := New(Config{URL: srv.URL, Model: "m", Dimension: 768, BatchSize: 10, Timeout: time.Second, MaxRetries: 1})

	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestEmbedEmptyInput(t *testing.T) {
	e := New(Config{URL: "http://unused", Model: "m"})
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedUnconfiguredURL(t *testing.T) {
	e := New(Config{Model: "m"})
	_, err := e.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestModelIdentifierStable(t *testing.T) {
	e := New(Config{URL: "http://unused", Model: "nomic-embed-text"})
	assert.Equal(t, "nomic-embed-text", e.Model())
}
