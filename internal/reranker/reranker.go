// Package reranker is an HTTP gateway to an external cross-encoder
// (query, passages) -> scores function. Failure is always non-fatal to
// the caller; the search engine degrades instead of failing.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/recall/recalld/internal/apperr"
)

// Reranker scores passages against a query, returning one score per
// passage in input order. Scores need not be normalized or comparable
// across calls; they are a monotonic relevance signal only.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Config configures the HTTP reranker gateway.
type Config struct {
	URL     string
	Timeout time.Duration
}

type httpReranker struct {
	host   string
	client *http.Client
}

// New constructs a Reranker backed by a cross-encoder HTTP endpoint. An
// empty URL yields a reranker that always reports unavailable, so callers
// degrade cleanly when no reranker backend is configured.
func New(cfg Config) Reranker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpReranker{
		host:   strings.TrimRight(cfg.URL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *httpReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if r.host == "" {
		return nil, apperr.RerankerUnavailable(fmt.Errorf("reranker url not configured"))
	}

	body, err := json.Marshal(rerankRequest{Query: query, Passages: passages})
	if err != nil {
		return nil, apperr.RerankerUnavailable(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.host+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.RerankerUnavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.RerankerUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperr.RerankerUnavailable(fmt.Errorf("reranker returned status %s", resp.Status))
	}

	var payload rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperr.RerankerUnavailable(fmt.Errorf("decode rerank response: %w", err))
	}
	if len(payload.Scores) != len(passages) {
		return nil, apperr.RerankerUnavailable(fmt.Errorf("reranker returned %d scores for %d passages", len(payload.Scores), len(passages)))
	}
	return payload.Scores, nil
}
