package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recall/recalld/internal/autotag"
	"github.com/recall/recalld/internal/cache"
	"github.com/recall/recalld/internal/chunker"
	"github.com/recall/recalld/internal/config"
	"github.com/recall/recalld/internal/embedder"
	"github.com/recall/recalld/internal/httpapi"
	"github.com/recall/recalld/internal/ingest"
	"github.com/recall/recalld/internal/llm"
	"github.com/recall/recalld/internal/qa"
	"github.com/recall/recalld/internal/reranker"
	"github.com/recall/recalld/internal/scheduler"
	"github.com/recall/recalld/internal/search"
	"github.com/recall/recalld/internal/store"
)

func main() {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "path to an optional YAML config file")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("recalld dev build")
		return
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		DatabaseURL:    cfg.Store.DatabaseURL,
		PoolMin:        cfg.Store.PoolMin,
		PoolMax:        cfg.Store.PoolMax,
		PoolTimeout:    cfg.Store.PoolTimeout,
		CommandTimeout: cfg.Store.CommandTimeout,
		RetryAttempts:  cfg.Store.RetryAttempts,
		Dimension:      cfg.Embedder.Dimension,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect store")
	}
	defer st.Close()

	resultCache := cache.New(cache.Config{
		URL:          cfg.Cache.URL,
		SearchTTL:    cfg.Cache.SearchTTL,
		EmbeddingTTL: cfg.Cache.EmbeddingTTL,
		RerankTTL:    cfg.Cache.RerankTTL,
	}, log)
	defer resultCache.Close()

	emb := embedder.New(embedder.Config{
		URL:        cfg.Embedder.URL,
		Model:      cfg.Embedder.Model,
		Dimension:  cfg.Embedder.Dimension,
		BatchSize:  cfg.Embedder.BatchSize,
		Timeout:    cfg.Embedder.Timeout,
		MaxRetries: cfg.Embedder.MaxRetries,
	})

	llmGateway := llm.NewGateway(parseProviders(cfg.Llm.Providers), cfg.Llm.Timeout, log)

	weights := search.NewWeightStore(search.Weights{
		Bm25Weight:   cfg.Search.Bm25Weight,
		VectorWeight: cfg.Search.VectorWeight,
		RrfK:         cfg.Search.RrfK,
		QualityAlpha: cfg.Search.QualityAlpha,
	})

	searchEngine := search.New(st, emb, rerankerGateway(cfg), resultCache, weights, search.Config{
		Bm25Candidates:  cfg.Search.Bm25Candidates,
		VectorCandidate: cfg.Search.VectorCandidate,
		RerankCandidate: cfg.Reranker.CandidateCount,
	})

	qaEngine := qa.New(searchEngine, llmGateway)

	sched := scheduler.New(st, scheduler.Params{
		RequestRetention: cfg.Scheduler.RequestRetention,
		MaximumInterval:  cfg.Scheduler.MaximumInterval,
	}, log)

	tagger := autotag.New(st, llmGateway, log)
	hook := postIngestHook(cfg, sched, tagger, log)

	chunk := chunker.New(chunker.Config{
		YoutubeWindowSeconds: cfg.Chunking.YoutubeWindowSeconds,
		ParagraphTokens:      cfg.Chunking.ParagraphTokens,
		ParagraphOverlap:     cfg.Chunking.ParagraphOverlap,
		RecursiveTokens:      cfg.Chunking.RecursiveTokens,
		RecursiveOverlap:     cfg.Chunking.RecursiveOverlap,
		MaxChunkChars:        cfg.Chunking.MaxChunkChars,
	})

	ingestor := ingest.New(st, emb, chunk, ingest.Config{
		MinContentLength: cfg.Ingest.MinContentLength,
		MaxBatch:         cfg.Ingest.MaxBatch,
	}, hook, log)

	srv := httpapi.New(cfg, ingestor, searchEngine, qaEngine, sched, st, weights, resultCache, log)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: srv,
	}

	log.Info().Str("addr", cfg.Address).Str("embedding_model", cfg.Embedder.Model).Msg("starting server")

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	waitForShutdown(httpServer, log)
}

// postIngestHook fires the optional auto-tagging and review-queue side
// effects after an ingest has committed. Both are non-fatal. The review
// enqueue runs inline before the ingest response is sent; auto-tagging
// runs in its own goroutine and does not delay the response.
func postIngestHook(cfg config.Config, sched *scheduler.Scheduler, tagger *autotag.Tagger, log zerolog.Logger) ingest.PostIngestHook {
	return func(ctx context.Context, documentID uuid.UUID, spec ingest.DocumentSpec, chunkTexts []string) {
		if cfg.Ingest.AutoReview {
			if _, err := sched.Add(ctx, documentID, time.Now().UTC()); err != nil {
				log.Warn().Err(err).Str("document_id", documentID.String()).Msg("review_enqueue_failed")
			}
		}
		if cfg.Ingest.AutoTag && len(cfg.Llm.Providers) > 0 {
			go tagger.Tag(documentID, spec.Title, spec.Summary, chunkTexts)
		}
	}
}

// rerankerGateway builds the cross-encoder client; an empty URL yields a
// gateway that always reports unavailable, so search degrades cleanly.
func rerankerGateway(cfg config.Config) reranker.Reranker {
	return reranker.New(reranker.Config{URL: cfg.Reranker.URL})
}

// parseProviders turns entries of the form "name|host|model" into LLM
// tiers, tried in list order.
func parseProviders(entries []string) []llm.Provider {
	var providers []llm.Provider
	for _, entry := range entries {
		parts := strings.SplitN(entry, "|", 3)
		if len(parts) != 3 {
			continue
		}
		providers = append(providers, llm.NewOllamaProvider(parts[0], parts[1], parts[2]))
	}
	return providers
}

func waitForShutdown(srv *http.Server, log zerolog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			log.Error().Err(err).Msg("forced close failed")
		}
	}

	log.Info().Msg("server stopped")
}
