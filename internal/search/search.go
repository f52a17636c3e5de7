// Package search implements the hybrid search engine: lexical + vector
// retrieval fused by reciprocal-rank fusion, quality boosting, and
// optional cross-encoder reranking, with graceful degradation whenever a
// downstream collaborator (embedder, reranker, one storage arm) is
// unavailable.
package search

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/recall/recalld/internal/cache"
	"github.com/recall/recalld/internal/embedder"
	"github.com/recall/recalld/internal/model"
	"github.com/recall/recalld/internal/queryexpand"
	"github.com/recall/recalld/internal/reranker"
	"github.com/recall/recalld/internal/store"
)

// Store is the persistence slice the search engine depends on.
type Store interface {
	LexicalSearch(ctx context.Context, query string, limit int, namespace string) ([]store.LexicalHit, error)
	VectorSearch(ctx context.Context, embedding []float32, limit int, namespace string) ([]store.VectorHit, error)
	GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error)
}

// Engine is the hybrid search engine. It holds no cyclic references:
// Store, Embedder, Reranker, Cache, and the query expander function are
// all one-directional dependencies.
type Engine struct {
	store    Store
	embedder embedder.Embedder
	reranker reranker.Reranker
	cache    *cache.Cache
	weights  *WeightStore

	bm25Candidates  int
	vectorCandidate int
	rerankCandidate int
}

// Config carries the non-hot-path tunables (candidate pool sizes); the
// hot-path RRF/quality weights live in WeightStore instead.
type Config struct {
	Bm25Candidates  int
	VectorCandidate int
	RerankCandidate int
}

// New constructs a search Engine.
func New(st Store, emb embedder.Embedder, rr reranker.Reranker, ch *cache.Cache, weights *WeightStore, cfg Config) *Engine {
	if cfg.Bm25Candidates <= 0 {
		cfg.Bm25Candidates = 50
	}
	if cfg.VectorCandidate <= 0 {
		cfg.VectorCandidate = 50
	}
	if cfg.RerankCandidate <= 0 {
		cfg.RerankCandidate = 20
	}
	return &Engine{
		store:           st,
		embedder:        emb,
		reranker:        rr,
		cache:           ch,
		weights:         weights,
		bm25Candidates:  cfg.Bm25Candidates,
		vectorCandidate: cfg.VectorCandidate,
		rerankCandidate: cfg.RerankCandidate,
	}
}

// Item is one ranked search result.
type Item struct {
	DocumentID  uuid.UUID          `json:"document_id"`
	ChunkID     *uuid.UUID         `json:"chunk_id,omitempty"`
	Title       string             `json:"title"`
	Type        model.DocumentType `json:"type"`
	Namespace   string             `json:"namespace"`
	FusedScore  float64            `json:"fused_score"`
	RerankScore *float64           `json:"rerank_score,omitempty"`
	ChunkText   string             `json:"chunk_text,omitempty"`
	SourceRef   string             `json:"source_ref,omitempty"`
}

// Result is the public return shape of a hybrid search.
type Result struct {
	Items      []Item `json:"items"`
	Total      int    `json:"total"`
	Query      string `json:"query"`
	Degraded   bool   `json:"degraded"`
	SearchMode string `json:"search_mode"`
	CacheHit   bool   `json:"cache_hit"`
}

// Options parameterize a single hybrid_search call.
type Options struct {
	Limit     int
	Namespace string
	Rerank    bool
	UseCache  bool
}

const (
	modeHybrid      = "hybrid"
	modeLexicalOnly = "lexical_only"
	modeVectorOnly  = "vector_only"
)

// errEmbedderUnconfigured marks the vector arm as skipped because no
// embedder is wired, distinct from a live embedder call failing.
var errEmbedderUnconfigured = errors.New("embedder unavailable")

// HybridSearch runs the full pipeline: cache lookup, parallel
// lexical+vector arms, RRF fusion, quality boost, truncate, optional
// rerank, cache store.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts Options) (Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	w := e.weights.Load()

	var cacheKey string
	if opts.UseCache && e.cache != nil {
		cacheKey = e.cache.Fingerprint(cache.ClassSearch, query, opts.Limit, opts.Namespace, opts.Rerank, w.Bm25Weight, w.VectorWeight, w.RrfK)
		var cached Result
		if e.cache.Get(ctx, cacheKey, &cached) {
			cached.CacheHit = true
			return cached, nil
		}
	}

	lexHits, vecHits, degraded, mode, err := e.runArms(ctx, query, opts)
	if err != nil {
		return Result{}, err
	}

	candidates := fuseRRF(lexHits, vecHits, w.Bm25Weight, w.VectorWeight, w.RrfK)
	items := e.toItems(candidates, vecHits)
	e.hydrateAndBoost(ctx, items, w.QualityAlpha)
	sort.Slice(items, func(i, j int) bool { return items[i].FusedScore > items[j].FusedScore })

	truncateAt := opts.Limit
	if opts.Rerank && truncateAt < e.rerankCandidate {
		truncateAt = e.rerankCandidate
	}
	if len(items) > truncateAt {
		items = items[:truncateAt]
	}

	if opts.Rerank {
		reranked, ok := e.applyRerank(ctx, query, items)
		if ok {
			items = reranked
		} else {
			degraded = true
		}
	}

	if len(items) > opts.Limit {
		items = items[:opts.Limit]
	}

	result := Result{
		Items:      items,
		Total:      len(items),
		Query:      query,
		Degraded:   degraded,
		SearchMode: mode,
	}

	if opts.UseCache && e.cache != nil && cacheKey != "" {
		e.cache.Set(ctx, cache.ClassSearch, cacheKey, result)
	}
	return result, nil
}

// runArms executes the lexical (expanded query) and vector (original
// query) arms concurrently, degrading to whichever arm succeeds when the
// embedder or one storage arm is unavailable.
func (e *Engine) runArms(ctx context.Context, query string, opts Options) ([]store.LexicalHit, []store.VectorHit, bool, string, error) {
	var lexHits []store.LexicalHit
	var vecHits []store.VectorHit
	var lexErr, vecErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		expanded := queryexpand.Expand(query)
		lexHits, lexErr = e.store.LexicalSearch(gctx, expanded, e.bm25Candidates, opts.Namespace)
		return nil
	})

	g.Go(func() error {
		if e.embedder == nil {
			vecErr = errEmbedderUnconfigured
			return nil
		}
		vecs, err := e.embedder.Embed(gctx, []string{query})
		if err != nil {
			vecErr = err
			return nil
		}
		if len(vecs) == 0 {
			vecErr = errEmbedderUnconfigured
			return nil
		}
		vecHits, vecErr = e.store.VectorSearch(gctx, vecs[0], e.vectorCandidate, opts.Namespace)
		return nil
	})

	_ = g.Wait()

	switch {
	case lexErr != nil && vecErr != nil:
		return nil, nil, true, modeLexicalOnly, lexErr
	case vecErr != nil:
		return lexHits, nil, true, modeLexicalOnly, nil
	case lexErr != nil:
		return nil, vecHits, true, modeVectorOnly, nil
	default:
		return lexHits, vecHits, false, modeHybrid, nil
	}
}

// fuseRRF computes score(doc) = w_bm25 * sum(1/(k+rank_lex)) + w_vec *
// sum(1/(k+rank_vec)) for every document appearing in either arm. Ranks
// are 1-based; an absent arm contributes nothing.
func fuseRRF(lex []store.LexicalHit, vec []store.VectorHit, wBm25, wVec float64, k int) map[uuid.UUID]float64 {
	scores := make(map[uuid.UUID]float64)

	for rank, hit := range lex {
		scores[hit.DocumentID] += wBm25 / float64(k+rank+1)
	}
	for rank, hit := range vec {
		scores[hit.DocumentID] += wVec / float64(k+rank+1)
	}
	return scores
}

// hydrateAndBoost fills in the document fields for each candidate and
// multiplies its fused score by (1 + alpha * quality_score/100), so
// quality moves results only at ties.
func (e *Engine) hydrateAndBoost(ctx context.Context, items []Item, alpha float64) {
	for i := range items {
		doc, err := e.store.GetDocument(ctx, items[i].DocumentID)
		if err != nil {
			continue
		}
		items[i].Title = doc.Title
		items[i].Type = doc.Type
		items[i].Namespace = doc.Namespace
		items[i].FusedScore *= 1 + alpha*float64(doc.QualityScore)/100
	}
}

func (e *Engine) toItems(scores map[uuid.UUID]float64, vecHits []store.VectorHit) []Item {
	chunkByDoc := make(map[uuid.UUID]store.VectorHit, len(vecHits))
	for _, h := range vecHits {
		if _, ok := chunkByDoc[h.DocumentID]; !ok {
			chunkByDoc[h.DocumentID] = h
		}
	}

	items := make([]Item, 0, len(scores))
	for docID, score := range scores {
		item := Item{DocumentID: docID, FusedScore: score}
		if hit, ok := chunkByDoc[docID]; ok {
			chunkID := hit.ChunkID
			item.ChunkID = &chunkID
			item.ChunkText = hit.ChunkText
			item.SourceRef = hit.SourceRef
		}
		items = append(items, item)
	}
	return items
}

// applyRerank scores every candidate's chunk text against the query with
// the cross-encoder and re-sorts by that score, breaking ties by the
// original fused score. On reranker failure it returns ok=false and the
// caller keeps the fused order with degraded=true.
func (e *Engine) applyRerank(ctx context.Context, query string, items []Item) ([]Item, bool) {
	if e.reranker == nil {
		return items, false
	}
	passages := make([]string, len(items))
	for i, it := range items {
		passages[i] = it.ChunkText
	}
	scores, err := e.reranker.Rerank(ctx, query, passages)
	if err != nil {
		return items, false
	}
	for i := range items {
		s := scores[i]
		items[i].RerankScore = &s
	}
	sort.SliceStable(items, func(i, j int) bool {
		if *items[i].RerankScore != *items[j].RerankScore {
			return *items[i].RerankScore > *items[j].RerankScore
		}
		return items[i].FusedScore > items[j].FusedScore
	})
	return items, true
}
