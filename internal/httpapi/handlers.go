package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recall/recalld/internal/apperr"
	"github.com/recall/recalld/internal/chunker"
	"github.com/recall/recalld/internal/ingest"
	"github.com/recall/recalld/internal/model"
	"github.com/recall/recalld/internal/search"
	"github.com/recall/recalld/internal/store"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, r, apperr.Validation("query parameter q must not be empty", nil))
		return
	}

	limit := s.cfg.Search.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, apperr.Validation("limit must be a positive integer", nil))
			return
		}
		limit = parsed
	}
	if limit > s.cfg.Search.MaxLimit {
		limit = s.cfg.Search.MaxLimit
	}

	rerank := false
	if raw := r.URL.Query().Get("rerank"); raw != "" {
		rerank, _ = strconv.ParseBool(raw)
	}

	result, err := s.search.HybridSearch(r.Context(), query, search.Options{
		Limit:     limit,
		Namespace: r.URL.Query().Get("namespace"),
		Rerank:    rerank,
		UseCache:  true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type ingestRequest struct {
	Filepath     string                   `json:"filepath"`
	Content      string                   `json:"content"`
	Title        string                   `json:"title"`
	DocumentType string                   `json:"document_type"`
	URL          string                   `json:"url"`
	Summary      string                   `json:"summary"`
	Tags         []string                 `json:"tags"`
	Namespace    string                   `json:"namespace"`
	Metadata     map[string]any           `json:"metadata"`
	Captions     []chunker.CaptionSegment `json:"captions,omitempty"`
	Pages        []string                 `json:"pages,omitempty"`
}

type ingestResponse struct {
	ContentID     string `json:"content_id"`
	Success       bool   `json:"success"`
	ChunksCreated int    `json:"chunks_created"`
	Status        string `json:"status"`
}

func (req ingestRequest) toSpec() (ingest.DocumentSpec, error) {
	if strings.TrimSpace(req.Title) == "" {
		return ingest.DocumentSpec{}, apperr.Validation("title must not be empty", nil)
	}
	if len(req.Title) > 500 {
		return ingest.DocumentSpec{}, apperr.Validation("title must be at most 500 characters", nil)
	}
	if req.DocumentType == "" {
		return ingest.DocumentSpec{}, apperr.Validation("document_type must not be empty", nil)
	}

	filepath := req.Filepath
	if filepath == "" {
		filepath = path.Join(req.Namespace, slugify(req.Title))
	}

	return ingest.DocumentSpec{
		Filepath:  filepath,
		Type:      model.DocumentType(req.DocumentType),
		Title:     req.Title,
		Content:   req.Content,
		URL:       req.URL,
		Summary:   req.Summary,
		Tags:      req.Tags,
		Metadata:  req.Metadata,
		Namespace: req.Namespace,
		Captions:  req.Captions,
		Pages:     req.Pages,
	}, nil
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("decode request body", nil))
		return
	}

	spec, err := req.toSpec()
	if err != nil {
		writeError(w, r, err)
		return
	}

	outcome, err := s.ingestor.Ingest(r.Context(), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if outcome.Status == ingest.StatusRejected {
		writeError(w, r, apperr.Validation("content rejected", map[string]any{"reason": string(outcome.Reason)}))
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		ContentID:     outcome.DocumentID.String(),
		Success:       true,
		ChunksCreated: outcome.ChunksCreated,
		Status:        string(outcome.Status),
	})
}

type batchRequest struct {
	Documents   []ingestRequest `json:"documents"`
	StopOnError bool            `json:"stop_on_error"`
}

type batchEntry struct {
	Index         int    `json:"index"`
	Success       bool   `json:"success"`
	Status        string `json:"status,omitempty"`
	ContentID     string `json:"content_id,omitempty"`
	ChunksCreated int    `json:"chunks_created,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("decode request body", nil))
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, r, apperr.Validation("documents must not be empty", nil))
		return
	}

	specs := make([]ingest.DocumentSpec, len(req.Documents))
	for i, doc := range req.Documents {
		spec, err := doc.toSpec()
		if err != nil {
			writeError(w, r, apperr.Validation(fmt.Sprintf("document %d invalid", i), nil))
			return
		}
		specs[i] = spec
	}

	results, err := s.ingestor.IngestBatch(r.Context(), specs, req.StopOnError)
	if err != nil && len(results) == 0 {
		writeError(w, r, err)
		return
	}

	entries := make([]batchEntry, 0, len(results))
	succeeded := 0
	for _, res := range results {
		entry := batchEntry{Index: res.Index}
		switch {
		case res.Err != nil:
			entry.Error = errorCode(res.Err)
		case res.Outcome.Status == ingest.StatusRejected:
			entry.Status = string(ingest.StatusRejected)
			entry.Error = string(res.Outcome.Reason)
		default:
			entry.Success = true
			entry.Status = string(res.Outcome.Status)
			entry.ContentID = res.Outcome.DocumentID.String()
			entry.ChunksCreated = res.Outcome.ChunksCreated
			succeeded++
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(req.Documents),
		"succeeded": succeeded,
		"failed":    len(entries) - succeeded,
		"results":   entries,
	})
}

func errorCode(err error) string {
	if e, ok := apperr.As(err); ok {
		return string(e.Kind)
	}
	return "internal_error"
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("decode request body", nil))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, r, apperr.Validation("query must not be empty", nil))
		return
	}

	result, err := s.asker.Ask(r.Context(), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type documentResponse struct {
	ID           string         `json:"id"`
	Filepath     string         `json:"filepath"`
	Type         string         `json:"type"`
	URL          string         `json:"url,omitempty"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary,omitempty"`
	AutoTags     []string       `json:"auto_tags,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Namespace    string         `json:"namespace,omitempty"`
	QualityScore int            `json:"quality_score"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CapturedAt   time.Time      `json:"captured_at"`
	Deleted      bool           `json:"deleted,omitempty"`
	Chunks       []chunkSummary `json:"chunks,omitempty"`
}

type chunkSummary struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	SourceRef  string `json:"source_ref,omitempty"`
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, apperr.Validation("invalid content id", nil))
		return
	}

	doc, err := s.catalog.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var summaries []chunkSummary
	if r.URL.Query().Get("include_chunks") == "true" {
		chunks, cErr := s.catalog.ChunksForDocument(r.Context(), id)
		if cErr == nil {
			summaries = make([]chunkSummary, len(chunks))
			for i, c := range chunks {
				summaries[i] = chunkSummary{ChunkIndex: c.ChunkIndex, Text: c.Text, SourceRef: c.SourceRef}
			}
		}
	}

	writeJSON(w, http.StatusOK, documentResponse{
		ID:           doc.ID.String(),
		Filepath:     doc.Filepath,
		Type:         string(doc.Type),
		URL:          doc.URL,
		Title:        doc.Title,
		Summary:      doc.Summary,
		AutoTags:     doc.AutoTags,
		Tags:         doc.Tags,
		Metadata:     doc.Metadata,
		Namespace:    doc.Namespace,
		QualityScore: doc.QualityScore,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		CapturedAt:   doc.CapturedAt,
		Deleted:      doc.DeletedAt != nil,
		Chunks:       summaries,
	})
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	docs, err := s.catalog.ListDocuments(r.Context(), store.ListFilter{
		Type:      model.DocumentType(q.Get("type")),
		Namespace: q.Get("namespace"),
		Tag:       q.Get("tag"),
	}, limit, offset, q.Get("order_by"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]documentResponse, len(docs))
	for i, doc := range docs {
		items[i] = documentResponse{
			ID:           doc.ID.String(),
			Filepath:     doc.Filepath,
			Type:         string(doc.Type),
			URL:          doc.URL,
			Title:        doc.Title,
			Summary:      doc.Summary,
			AutoTags:     doc.AutoTags,
			Tags:         doc.Tags,
			Namespace:    doc.Namespace,
			QualityScore: doc.QualityScore,
			CreatedAt:    doc.CreatedAt,
			UpdatedAt:    doc.UpdatedAt,
			CapturedAt:   doc.CapturedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// handleDeleteContent soft-deletes by default so the rows survive; the
// hard flag removes the document and cascades to its chunks.
func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, apperr.Validation("invalid content id", nil))
		return
	}

	if r.URL.Query().Get("hard") == "true" {
		err = s.catalog.HardDelete(r.Context(), id)
	} else {
		err = s.catalog.SoftDelete(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id.String()})
}

type reviewItemResponse struct {
	DocumentID   string     `json:"content_id"`
	State        string     `json:"state"`
	NextReview   *time.Time `json:"next_review"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`
	ReviewCount  int        `json:"review_count"`
	Status       string     `json:"status"`
}

func toReviewResponse(item model.ReviewItem) reviewItemResponse {
	state := item.FsrsState.State
	if state == "" {
		state = model.LearnNew
	}
	return reviewItemResponse{
		DocumentID:   item.DocumentID.String(),
		State:        string(state),
		NextReview:   item.NextReview,
		LastReviewed: item.LastReviewed,
		ReviewCount:  item.ReviewCount,
		Status:       string(item.Status),
	}
}

func (s *Server) handleReviewDue(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Scheduler.ReviewSessionSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	items, err := s.reviewer.Due(r.Context(), time.Now().UTC(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]reviewItemResponse, len(items))
	for i, item := range items {
		out[i] = toReviewResponse(item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": len(out)})
}

type reviewTarget struct {
	ContentID string `json:"content_id"`
	Rating    int    `json:"rating"`
}

func (req reviewTarget) documentID() (uuid.UUID, error) {
	id, err := uuid.Parse(req.ContentID)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid content_id", nil)
	}
	return id, nil
}

func (s *Server) handleReviewSubmit(w http.ResponseWriter, r *http.Request) {
	var req reviewTarget
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("decode request body", nil))
		return
	}
	id, err := req.documentID()
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.reviewer.Submit(r.Context(), id, model.Rating(req.Rating), time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"next_review": item.NextReview,
		"state":       string(item.FsrsState.State),
	})
}

func (s *Server) handleReviewAdd(w http.ResponseWriter, r *http.Request) {
	var req reviewTarget
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("decode request body", nil))
		return
	}
	id, err := req.documentID()
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := s.reviewer.Add(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(item))
}

type statusAction int

const (
	statusActionSuspend statusAction = iota
	statusActionArchive
	statusActionResume
)

func (s *Server) handleReviewStatus(action statusAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewTarget
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, apperr.Validation("decode request body", nil))
			return
		}
		id, err := req.documentID()
		if err != nil {
			writeError(w, r, err)
			return
		}

		switch action {
		case statusActionSuspend:
			err = s.reviewer.Suspend(r.Context(), id)
		case statusActionArchive:
			err = s.reviewer.Archive(r.Context(), id)
		case statusActionResume:
			err = s.reviewer.Resume(r.Context(), id, time.Now().UTC())
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": true})
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.CollectStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{}
	status := "healthy"

	if err := s.catalog.Ping(ctx); err != nil {
		services["database"] = "unhealthy"
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if s.cache.Available() {
		services["cache"] = "healthy"
	} else {
		services["cache"] = "disabled"
	}

	payload := map[string]any{"status": status, "services": services}
	if status != "unhealthy" {
		if stats, err := s.catalog.CollectStats(ctx); err == nil {
			payload["stats"] = stats
		} else {
			status = "degraded"
			payload["status"] = status
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

type tuningRequest struct {
	Bm25Weight   *float64 `json:"bm25_weight"`
	VectorWeight *float64 `json:"vector_weight"`
	RrfK         *int     `json:"rrf_k"`
}

// handleTuningWeights publishes a new weight snapshot and bumps the cache
// namespace version so previously cached search results become
// unreachable.
func (s *Server) handleTuningWeights(w http.ResponseWriter, r *http.Request) {
	var req tuningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("decode request body", nil))
		return
	}

	current := s.weights.Load()
	if req.Bm25Weight != nil {
		current.Bm25Weight = *req.Bm25Weight
	}
	if req.VectorWeight != nil {
		current.VectorWeight = *req.VectorWeight
	}
	if req.RrfK != nil {
		current.RrfK = *req.RrfK
	}

	if current.Bm25Weight < 0 || current.VectorWeight < 0 {
		writeError(w, r, apperr.Validation("weights must not be negative", nil))
		return
	}
	if current.Bm25Weight+current.VectorWeight <= 0 {
		writeError(w, r, apperr.Validation("bm25_weight + vector_weight must be > 0", nil))
		return
	}
	if current.RrfK <= 0 {
		writeError(w, r, apperr.Validation("rrf_k must be positive", nil))
		return
	}

	s.weights.Store(current)
	s.cache.BumpVersion()

	writeJSON(w, http.StatusOK, map[string]any{
		"bm25_weight":   current.Bm25Weight,
		"vector_weight": current.VectorWeight,
		"rrf_k":         current.RrfK,
	})
}

// slugify derives a stable filepath fragment from a title when the client
// did not supply one.
func slugify(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '/':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "untitled"
	}
	return slug + ".md"
}
