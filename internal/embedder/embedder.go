// Package embedder is a batched, retrying HTTP gateway to an external
// text->vector embedding function.
package embedder

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

// Embedder produces fixed-dimensional vectors for a batch of texts, in the
// same order as the input, and reports a stable model identifier to be
// recorded alongside every chunk it embeds.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	BatchSize() int
}

// Config configures the HTTP embedder gateway.
type Config struct {
	URL        string
	Model      string
	Dimension  int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

type httpEmbedder struct {
	host       string
	model      string
	dimension  int
	batchSize  int
	maxRetries int
	client     *http.Client
}

// New constructs an Embedder backed by an Ollama-compatible HTTP embeddings
// endpoint, sending up to cfg.BatchSize texts per request.
func New(cfg Config) Embedder {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &httpEmbedder{
		host:       strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *httpEmbedder) Model() string { return e.model }
func (e *httpEmbedder) BatchSize() int { return e.batchSize }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed batches texts into groups of at most BatchSize, calling the
// underlying endpoint for each group with exponential-backoff retry, and
// returns vectors in input order.
func (e *httpEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.host == "" {
		return nil, apperr.EmbedderUnavailable(fmt.Errorf("embedder url not configured"))
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatchWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *httpEmbedder) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		vecs, err := e.embedBatch(ctx, batch)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if attempt == e.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, apperr.Cancelled(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, apperr.EmbedderUnavailable(lastErr)
}

func (e *httpEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("embedder returned status %s", resp.Status)
	}

	var payload embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(payload.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(payload.Embeddings), len(batch))
	}

	vecs := make([][]float32, len(payload.Embeddings))
	for i, raw := range payload.Embeddings {
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		if e.dimension > 0 && len(vec) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(vec))
		}
		vecs[i] = vec
	}
	return vecs, nil
}
