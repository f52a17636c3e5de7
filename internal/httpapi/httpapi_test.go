package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall/recalld/internal/apperr"
	"github.com/recall/recalld/internal/cache"
	"github.com/recall/recalld/internal/config"
	"github.com/recall/recalld/internal/ingest"
	"github.com/recall/recalld/internal/model"
	"github.com/recall/recalld/internal/qa"
	"github.com/recall/recalld/internal/search"
	"github.com/recall/recalld/internal/store"
	"github.com/recall/recalld/internal/validator"
)

type fakeIngestor struct {
	outcome ingest.Outcome
	err     error
	lastOpt *ingest.DocumentSpec
}

func (f *fakeIngestor) Ingest(_ context.Context, spec ingest.DocumentSpec) (ingest.Outcome, error) {
	f.lastOpt = &spec
	return f.outcome, f.err
}

func (f *fakeIngestor) IngestBatch(_ context.Context, specs []ingest.DocumentSpec, _ bool) ([]ingest.BatchResult, error) {
	results := make([]ingest.BatchResult, len(specs))
	for i := range specs {
		o := f.outcome
		results[i] = ingest.BatchResult{Index: i, Outcome: &o}
	}
	return results, f.err
}

type fakeSearcher struct {
	result  search.Result
	lastOpt search.Options
}

func (f *fakeSearcher) HybridSearch(_ context.Context, query string, opts search.Options) (search.Result, error) {
	f.lastOpt = opts
	f.result.Query = query
	return f.result, nil
}

type fakeAsker struct {
	result qa.Result
	err    error
}

func (f *fakeAsker) Ask(_ context.Context, _ string) (qa.Result, error) {
	return f.result, f.err
}

type fakeReviewer struct {
	item model.ReviewItem
	err  error
}

func (f *fakeReviewer) Due(_ context.Context, _ time.Time, _ int) ([]model.ReviewItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []model.ReviewItem{f.item}, nil
}

func (f *fakeReviewer) Submit(_ context.Context, _ uuid.UUID, _ model.Rating, _ time.Time) (model.ReviewItem, error) {
	return f.item, f.err
}

func (f *fakeReviewer) Add(_ context.Context, _ uuid.UUID, _ time.Time) (model.ReviewItem, error) {
	return f.item, f.err
}

func (f *fakeReviewer) Suspend(_ context.Context, _ uuid.UUID) error { return f.err }
func (f *fakeReviewer) Archive(_ context.Context, _ uuid.UUID) error { return f.err }
func (f *fakeReviewer) Resume(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return f.err
}

type fakeCatalog struct {
	doc         model.Document
	docErr      error
	pingErr     error
	lastFilter  store.ListFilter
	hardDeleted bool
}

func (f *fakeCatalog) GetDocument(_ context.Context, _ uuid.UUID) (model.Document, error) {
	return f.doc, f.docErr
}

func (f *fakeCatalog) ChunksForDocument(_ context.Context, id uuid.UUID) ([]model.Chunk, error) {
	return []model.Chunk{{DocumentID: id, ChunkIndex: 0, Text: "chunk zero"}}, nil
}

func (f *fakeCatalog) ListDocuments(_ context.Context, filter store.ListFilter, _, _ int, _ string) ([]model.Document, error) {
	f.lastFilter = filter
	return []model.Document{f.doc}, nil
}

func (f *fakeCatalog) SoftDelete(_ context.Context, _ uuid.UUID) error { return f.docErr }

func (f *fakeCatalog) HardDelete(_ context.Context, _ uuid.UUID) error {
	f.hardDeleted = true
	return f.docErr
}

func (f *fakeCatalog) CollectStats(_ context.Context) (store.Stats, error) {
	return store.Stats{TotalContent: 2, TotalChunks: 5, ByType: map[string]int{"note": 2}}, nil
}

func (f *fakeCatalog) Ping(_ context.Context) error { return f.pingErr }

type testServer struct {
	*Server
	ingestor *fakeIngestor
	searcher *fakeSearcher
	asker    *fakeAsker
	reviewer *fakeReviewer
	catalog  *fakeCatalog
	weights  *search.WeightStore
	cache    *cache.Cache
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(&cfg)
	}

	ts := &testServer{
		ingestor: &fakeIngestor{},
		searcher: &fakeSearcher{},
		asker:    &fakeAsker{},
		reviewer: &fakeReviewer{},
		catalog:  &fakeCatalog{},
		weights: search.NewWeightStore(search.Weights{
			Bm25Weight: 0.5, VectorWeight: 0.5, RrfK: 60, QualityAlpha: 0.05,
		}),
		cache: cache.New(cache.Config{}, zerolog.Nop()),
	}
	ts.Server = New(cfg, ts.ingestor, ts.searcher, ts.asker, ts.reviewer, ts.catalog, ts.weights, ts.cache, zerolog.Nop())
	return ts
}

func doJSON(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestSearchRequiresQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
}

func TestSearchClampsLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/search?q=go&limit=9999", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, ts.searcher.lastOpt.Limit)
}

func TestSearchDegradedStill200(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.searcher.result = search.Result{Degraded: true, SearchMode: "lexical_only"}
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/search?q=FastAPI", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Degraded)
	assert.Equal(t, "lexical_only", body.SearchMode)
}

func TestIngestDocumentSuccess(t *testing.T) {
	ts := newTestServer(t, nil)
	docID := uuid.New()
	ts.ingestor.outcome = ingest.Outcome{Status: ingest.StatusIngested, DocumentID: docID, ChunksCreated: 3}

	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ingest/document", map[string]any{
		"content":       "long enough content",
		"title":         "A note",
		"document_type": "note",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, docID.String(), body.ContentID)
	assert.Equal(t, 3, body.ChunksCreated)
}

func TestIngestDocumentRejected400(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ingestor.outcome = ingest.Outcome{Status: ingest.StatusRejected, Reason: validator.ReasonErrorPageLike}

	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ingest/document", map[string]any{
		"content":       "404 Not Found",
		"title":         "X",
		"document_type": "bookmark",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error_page_like", body.Details["reason"])
}

func TestIngestDocumentRequiresTitle(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ingest/document", map[string]any{
		"content":       "body",
		"document_type": "note",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestDocumentDerivesFilepath(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ingestor.outcome = ingest.Outcome{Status: ingest.StatusIngested, DocumentID: uuid.New(), ChunksCreated: 1}

	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ingest/document", map[string]any{
		"content":       "body",
		"title":         "My Great Note",
		"document_type": "note",
		"namespace":     "projects/voice-ai",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, ts.ingestor.lastOpt)
	assert.Equal(t, "projects/voice-ai/my-great-note.md", ts.ingestor.lastOpt.Filepath)
}

func TestIngestBatchSummary(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ingestor.outcome = ingest.Outcome{Status: ingest.StatusIngested, DocumentID: uuid.New(), ChunksCreated: 1}

	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ingest/batch", map[string]any{
		"documents": []map[string]any{
			{"content": "a", "title": "A", "document_type": "note"},
			{"content": "b", "title": "B", "document_type": "note"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 2, body.Succeeded)
	assert.Equal(t, 0, body.Failed)
}

func TestAskRequiresQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ask", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskReturnsAnswer(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.asker.result = qa.Result{Answer: "answer [1]", Confidence: qa.ConfidenceHigh}

	rec := doJSON(t, ts, http.MethodPost, "/api/v1/ask", map[string]any{"query": "what is rrf"})
	require.Equal(t, http.StatusOK, rec.Code)

	var body qa.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, qa.ConfidenceHigh, body.Confidence)
}

func TestGetContentNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.catalog.docErr = apperr.NotFound("document missing")
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/content/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetContentIncludesChunksOnRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.catalog.doc = model.Document{ID: uuid.New(), Title: "doc", Type: model.TypeNote}

	rec := doJSON(t, ts, http.MethodGet, "/api/v1/content/"+ts.catalog.doc.ID.String()+"?include_chunks=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Chunks, 1)
	assert.Equal(t, "chunk zero", body.Chunks[0].Text)
}

func TestGetContentInvalidID(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/content/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListContentPassesFilter(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.catalog.doc = model.Document{ID: uuid.New(), Title: "doc", Type: model.TypeNote}

	rec := doJSON(t, ts, http.MethodGet, "/api/v1/content?type=note&namespace=projects&tag=go", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.TypeNote, ts.catalog.lastFilter.Type)
	assert.Equal(t, "projects", ts.catalog.lastFilter.Namespace)
	assert.Equal(t, "go", ts.catalog.lastFilter.Tag)
}

func TestDeleteContentHardFlag(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodDelete, "/api/v1/content/"+uuid.NewString()+"?hard=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.catalog.hardDeleted)
}

func TestReviewSubmitNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.reviewer.err = apperr.NotFound("no review item")
	rec := doJSON(t, ts, http.MethodPost, "/api/v1/review/submit", map[string]any{
		"content_id": uuid.NewString(),
		"rating":     3,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewSubmitReturnsNextReview(t *testing.T) {
	ts := newTestServer(t, nil)
	next := time.Now().UTC().Add(72 * time.Hour)
	ts.reviewer.item = model.ReviewItem{
		DocumentID: uuid.New(),
		NextReview: &next,
		FsrsState:  model.FsrsState{State: model.LearnReview},
	}

	rec := doJSON(t, ts, http.MethodPost, "/api/v1/review/submit", map[string]any{
		"content_id": uuid.NewString(),
		"rating":     3,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		NextReview time.Time `json:"next_review"`
		State      string    `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "review", body.State)
	assert.WithinDuration(t, next, body.NextReview, time.Second)
}

func TestTuningWeightsRejectsZeroSum(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodPatch, "/api/v1/tuning/weights", map[string]any{
		"bm25_weight":   0,
		"vector_weight": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// A successful tuning change publishes the new snapshot and bumps the
// cache namespace so earlier search fingerprints no longer resolve.
func TestTuningWeightsUpdatesAndInvalidates(t *testing.T) {
	ts := newTestServer(t, nil)
	before := ts.cache.Fingerprint(cache.ClassSearch, "q", 10)

	rec := doJSON(t, ts, http.MethodPatch, "/api/v1/tuning/weights", map[string]any{
		"bm25_weight":   0.7,
		"vector_weight": 0.3,
		"rrf_k":         40,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	w := ts.weights.Load()
	assert.Equal(t, 0.7, w.Bm25Weight)
	assert.Equal(t, 0.3, w.VectorWeight)
	assert.Equal(t, 40, w.RrfK)
	assert.NotEqual(t, before, ts.cache.Fingerprint(cache.ClassSearch, "q", 10))
}

func TestHealthHealthy(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "healthy", body.Services["database"])
}

func TestHealthUnhealthyWhenStoreDown(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.catalog.pingErr = context.DeadlineExceeded

	rec := doJSON(t, ts, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := doJSON(t, ts, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.TotalContent)
	assert.Equal(t, 5, body.TotalChunks)
	assert.Equal(t, 2, body.ByType["note"])
}

func TestAPIKeyEnforced(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.APIKey = "secret" })

	rec := doJSON(t, ts, http.MethodGet, "/api/v1/search?q=go", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?q=go", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	ts.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	// Health stays reachable without a key.
	health := doJSON(t, ts, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, health.Code)
}
