package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func TestRerankReturnsScoresInOrder(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query", req.Query)
		scores := make([]float64, len(req.Passages))
		for i := range req.Passages {
			scores[i] = float64(len(req.Passages[i]))
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: scores})
	})

	r := New(Config{URL: srv.URL, Timeout: time.Second})
	scores, err := r.Rerank(context.Background(), "query", []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 2}, scores)
}

func TestRerankEmptyPassages(t *testing.T) {
	r := New(Config{URL: "http://unused"})
	scores, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Nil(t, scores)
}

func TestRerankUnconfiguredReportsUnavailable(t *testing.T) {
	r := New(Config{})
	_, err := r.Rerank(context.Background(), "q", []string{"p"})
	require.Error(t, err)
	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindRerankerDown, typed.Kind)
}

func TestRerankServerErrorTyped(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	r := New(Config{URL: srv.URL, Timeout: time.Second})
	_, err := r.Rerank(context.Background(), "q", []string{"p"})
	require.Error(t, err)
	typed, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindRerankerDown, typed.Kind)
}

func TestRerankScoreCountMismatch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.5}})
	})
	r := New(Config{URL: srv.URL, Timeout: time.Second})
	_, err := r.Rerank(context.Background(), "q", []string{"p1", "p2"})
	require.Error(t, err)
}
