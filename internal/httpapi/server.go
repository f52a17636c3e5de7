// Package httpapi exposes the retrieval engine over HTTP: search, ingest,
// ask, content, review, stats, health, and runtime tuning, all under
// /api/v1.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recall/recalld/internal/cache"
	"github.com/recall/recalld/internal/config"
	"github.com/recall/recalld/internal/ingest"
	"github.com/recall/recalld/internal/model"
	"github.com/recall/recalld/internal/qa"
	"github.com/recall/recalld/internal/search"
	"github.com/recall/recalld/internal/store"
)

// Ingestor is the write-path dependency.
type Ingestor interface {
	Ingest(ctx context.Context, spec ingest.DocumentSpec) (ingest.Outcome, error)
	IngestBatch(ctx context.Context, specs []ingest.DocumentSpec, stopOnError bool) ([]ingest.BatchResult, error)
}

// Searcher is the read-path dependency.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, opts search.Options) (search.Result, error)
}

// Asker is the question-answering dependency.
type Asker interface {
	Ask(ctx context.Context, question string) (qa.Result, error)
}

// Reviewer is the spaced-repetition dependency.
type Reviewer interface {
	Due(ctx context.Context, now time.Time, limit int) ([]model.ReviewItem, error)
	Submit(ctx context.Context, documentID uuid.UUID, rating model.Rating, now time.Time) (model.ReviewItem, error)
	Add(ctx context.Context, documentID uuid.UUID, now time.Time) (model.ReviewItem, error)
	Suspend(ctx context.Context, documentID uuid.UUID) error
	Archive(ctx context.Context, documentID uuid.UUID) error
	Resume(ctx context.Context, documentID uuid.UUID, now time.Time) error
}

// Catalog is the direct store slice used by content, stats, and health.
type Catalog interface {
	GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error)
	ListDocuments(ctx context.Context, filter store.ListFilter, limit, offset int, orderBy string) ([]model.Document, error)
	ChunksForDocument(ctx context.Context, documentID uuid.UUID) ([]model.Chunk, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error
	CollectStats(ctx context.Context) (store.Stats, error)
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the underlying engine services.
type Server struct {
	cfg      config.Config
	router   http.Handler
	ingestor Ingestor
	search   Searcher
	asker    Asker
	reviewer Reviewer
	catalog  Catalog
	weights  *search.WeightStore
	cache    *cache.Cache
	log      zerolog.Logger
}

// New constructs a Server with the provided dependencies.
func New(cfg config.Config, ingestor Ingestor, searcher Searcher, asker Asker, reviewer Reviewer, catalog Catalog, weights *search.WeightStore, resultCache *cache.Cache, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		ingestor: ingestor,
		search:   searcher,
		asker:    asker,
		reviewer: reviewer,
		catalog:  catalog,
		weights:  weights,
		cache:    resultCache,
		log:      log.With().Str("component", "httpapi").Logger(),
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(s.requestLogger)
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	mux.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/search", s.handleSearch)
		r.Post("/ingest/document", s.handleIngestDocument)
		r.Post("/ingest/batch", s.handleIngestBatch)
		r.Post("/ask", s.handleAsk)
		r.Get("/content", s.handleListContent)
		r.Get("/content/{id}", s.handleGetContent)
		r.Delete("/content/{id}", s.handleDeleteContent)
		r.Get("/review/due", s.handleReviewDue)
		r.Post("/review/submit", s.handleReviewSubmit)
		r.Post("/review/add", s.handleReviewAdd)
		r.Post("/review/suspend", s.handleReviewStatus(statusActionSuspend))
		r.Post("/review/archive", s.handleReviewStatus(statusActionArchive))
		r.Post("/review/resume", s.handleReviewStatus(statusActionResume))
		r.Get("/stats", s.handleStats)
		r.Get("/health", s.handleHealth)
		r.Patch("/tuning/weights", s.handleTuningWeights)
	})

	s.router = mux
	return s
}

// ServeHTTP exposes the router so Server satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireAPIKey enforces the X-API-Key header when a key is configured.
// The health endpoint stays open so probes keep working.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeErrorBody(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid API key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request, echoing the
// request id back to the client.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
