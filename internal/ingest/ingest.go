// Package ingest orchestrates the write path: validate, hash, upsert the
// document row, chunk, embed, and atomically replace chunks, with
// optional auto-tagging and review-queue insertion afterwards.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/recall/recalld/internal/apperr"
	"github.com/recall/recalld/internal/chunker"
	"github.com/recall/recalld/internal/model"
	"github.com/recall/recalld/internal/store"
	"github.com/recall/recalld/internal/validator"
)

// Store is the subset of the persistence layer the ingestor writes
// through.
type Store interface {
	UpsertDocument(ctx context.Context, p store.UpsertDocumentParams) (id uuid.UUID, wasNew, changed bool, err error)
	ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []store.NewChunk) error
	CountChunks(ctx context.Context, documentID uuid.UUID) (int, error)
}

// Embedder is the embedding gateway slice the ingestor calls.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	BatchSize() int
}

// PostIngestHook runs after a successful ingest; used to enqueue
// auto-tagging and review scheduling without the ingestor owning either.
type PostIngestHook func(ctx context.Context, documentID uuid.UUID, spec DocumentSpec, chunkTexts []string)

// DocumentSpec describes one document to ingest.
type DocumentSpec struct {
	Filepath   string
	Type       model.DocumentType
	Title      string
	Content    string
	URL        string
	Summary    string
	Tags       []string
	Metadata   map[string]any
	Namespace  string
	CapturedAt time.Time

	// Captions carries timed transcript segments for youtube content;
	// Pages carries page-split text for pdf-derived files. Both are
	// optional and fall back to plain Content.
	Captions []chunker.CaptionSegment
	Pages    []string
}

// Status names the outcome variant of one ingest attempt.
type Status string

const (
	StatusIngested  Status = "ingested"
	StatusUnchanged Status = "unchanged"
	StatusRejected  Status = "rejected"
)

// Outcome is the structured result of one ingest attempt.
type Outcome struct {
	Status        Status                 `json:"status"`
	DocumentID    uuid.UUID              `json:"content_id"`
	ChunksCreated int                    `json:"chunks_created"`
	Reason        validator.RejectReason `json:"reason,omitempty"`
}

// Config tunes the ingestor.
type Config struct {
	MinContentLength int
	MaxBatch         int
}

// Ingestor coordinates the write path. It holds references to the
// validator (a pure function), chunker, embedder, and store; orchestration
// flows strictly top-down.
type Ingestor struct {
	store    Store
	embedder Embedder
	chunker  *chunker.Chunker
	cfg      Config
	hook     PostIngestHook
	log      zerolog.Logger
}

// New constructs an Ingestor. hook may be nil.
func New(st Store, emb Embedder, ch *chunker.Chunker, cfg Config, hook PostIngestHook, log zerolog.Logger) *Ingestor {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 50
	}
	return &Ingestor{
		store:    st,
		embedder: emb,
		chunker:  ch,
		cfg:      cfg,
		hook:     hook,
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Ingest runs the full pipeline for one document.
func (ing *Ingestor) Ingest(ctx context.Context, spec DocumentSpec) (Outcome, error) {
	if reason := validator.Validate(spec.Content, ing.cfg.MinContentLength); reason != "" {
		ing.log.Info().Str("filepath", spec.Filepath).Str("reason", string(reason)).Msg("ingest_rejected")
		return Outcome{Status: StatusRejected, Reason: reason}, nil
	}

	hash := contentHash(spec.Content)
	docID, _, changed, err := ing.store.UpsertDocument(ctx, store.UpsertDocumentParams{
		Filepath:     spec.Filepath,
		Type:         spec.Type,
		Title:        spec.Title,
		ContentHash:  hash,
		URL:          spec.URL,
		Summary:      spec.Summary,
		Tags:         spec.Tags,
		Metadata:     spec.Metadata,
		Namespace:    spec.Namespace,
		QualityScore: qualityScore(spec),
		CapturedAt:   spec.CapturedAt,
	})
	if err != nil {
		return Outcome{}, err
	}

	if !changed {
		count, cErr := ing.store.CountChunks(ctx, docID)
		if cErr != nil {
			count = 0
		}
		return Outcome{Status: StatusUnchanged, DocumentID: docID, ChunksCreated: count}, nil
	}

	units := ing.chunkDocument(spec)
	if len(units) == 0 {
		return Outcome{}, apperr.ChunkingError(nil)
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.Text
	}

	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		// No chunks are written on embedder failure; the document row
		// keeps its prior chunk set (or none, for a first ingest).
		return Outcome{}, err
	}

	chunks := make([]store.NewChunk, len(units))
	for i, u := range units {
		chunks[i] = store.NewChunk{
			Text:           u.Text,
			Embedding:      vectors[i],
			EmbeddingModel: ing.embedder.Model(),
			SourceRef:      u.SourceRef,
			StartChar:      u.StartChar,
			EndChar:        u.EndChar,
		}
	}

	if err := ing.store.ReplaceChunks(ctx, docID, chunks); err != nil {
		return Outcome{}, err
	}

	if ing.hook != nil {
		ing.hook(ctx, docID, spec, texts)
	}

	ing.log.Info().
		Str("filepath", spec.Filepath).
		Str("document_id", docID.String()).
		Int("chunks", len(chunks)).
		Msg("ingested")
	return Outcome{Status: StatusIngested, DocumentID: docID, ChunksCreated: len(chunks)}, nil
}

// BatchResult pairs one batch entry with its outcome or error.
type BatchResult struct {
	Index   int      `json:"index"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Err     error    `json:"-"`
}

// IngestBatch processes up to MaxBatch documents. With stopOnError the
// documents run sequentially and the batch aborts at the first failure;
// otherwise each is attempted independently with in-flight work bounded
// by the embedder's batch size.
func (ing *Ingestor) IngestBatch(ctx context.Context, specs []DocumentSpec, stopOnError bool) ([]BatchResult, error) {
	if len(specs) > ing.cfg.MaxBatch {
		return nil, apperr.Validation("batch too large", map[string]any{
			"max": ing.cfg.MaxBatch, "got": len(specs),
		})
	}

	results := make([]BatchResult, len(specs))

	if stopOnError {
		for i, spec := range specs {
			out, err := ing.Ingest(ctx, spec)
			results[i] = BatchResult{Index: i, Err: err}
			if err == nil {
				o := out
				results[i].Outcome = &o
			} else {
				return results[:i+1], err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.embedder.BatchSize())
	for i, spec := range specs {
		g.Go(func() error {
			out, err := ing.Ingest(gctx, spec)
			results[i] = BatchResult{Index: i, Err: err}
			if err == nil {
				o := out
				results[i].Outcome = &o
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (ing *Ingestor) chunkDocument(spec DocumentSpec) []chunker.Unit {
	if len(spec.Pages) > 0 {
		return ing.chunker.ChunkPDF(spec.Pages)
	}
	return ing.chunker.Chunk(chunker.ChunkInput{
		Type:     spec.Type,
		Text:     spec.Content,
		Captions: spec.Captions,
	})
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// qualityScore derives a 0-100 completeness score from how much optional
// metadata the source supplied.
func qualityScore(spec DocumentSpec) int {
	score := 0
	if spec.Title != "" {
		score += 25
	}
	if spec.Summary != "" {
		score += 25
	}
	if len(spec.Tags) > 0 {
		score += 20
	}
	if spec.URL != "" {
		score += 15
	}
	if len(spec.Metadata) > 0 {
		score += 15
	}
	return score
}
