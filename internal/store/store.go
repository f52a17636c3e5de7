// Package store is the persistent catalog of documents, chunks, and
// review state. It is the only component permitted to mutate that state;
// every other component reaches it through the narrow operations below.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/recall/recalld/internal/apperr"
)

// Store is a pooled, transactional Postgres+pgvector backend.
type Store struct {
	pool          *pgxpool.Pool
	dimension     int
	retryAttempts int
	poolTimeout   time.Duration
	log           zerolog.Logger
}

// Config configures a Store's connection pool.
type Config struct {
	DatabaseURL    string
	PoolMin        int
	PoolMax        int
	PoolTimeout    time.Duration
	CommandTimeout time.Duration
	RetryAttempts  int
	Dimension      int
}

// Open connects to Postgres, applies the pool bounds, and ensures the
// schema exists.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.PoolMin > 0 {
		pcfg.MinConns = int32(cfg.PoolMin)
	}
	if cfg.PoolMax > 0 {
		pcfg.MaxConns = int32(cfg.PoolMax)
	}
	if cfg.PoolTimeout > 0 {
		pcfg.MaxConnLifetime = 0
		pcfg.HealthCheckPeriod = 1 * time.Minute
	}
	if cfg.CommandTimeout > 0 {
		pcfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.CommandTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	retries := cfg.RetryAttempts
	if retries <= 0 {
		retries = 3
	}

	s := &Store{
		pool:          pool,
		dimension:     cfg.Dimension,
		retryAttempts: retries,
		poolTimeout:   cfg.PoolTimeout,
		log:           log.With().Str("component", "store").Logger(),
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(schemaDDL, s.dimension)
	_, err := s.pool.Exec(ctx, stmt)
	if err != nil {
		// HNSW may be unavailable on older pgvector; run without the ANN
		// index rather than fail startup. Queries fall back to a scan
		// until an index can be built.
		if isIndexCreationFailure(err) {
			s.log.Warn().Err(err).Msg("ann_index_creation_skipped")
			return nil
		}
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func isIndexCreationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "0A000" || pgErr.Code == "42704"
	}
	return false
}

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS content (
	id UUID PRIMARY KEY,
	filepath TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	auto_tags TEXT[] NOT NULL DEFAULT '{}',
	tags TEXT[] NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	namespace TEXT NOT NULL DEFAULT '',
	quality_score INT NOT NULL DEFAULT 0,
	lexical_doc TSVECTOR,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	captured_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS content_filepath_active_idx
	ON content (filepath) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS content_deleted_at_idx ON content (deleted_at);
CREATE INDEX IF NOT EXISTS content_namespace_idx ON content (namespace);
CREATE INDEX IF NOT EXISTS content_lexical_idx ON content USING GIN (lexical_doc);

CREATE OR REPLACE FUNCTION content_lexical_trigger() RETURNS trigger AS $$
BEGIN
	NEW.lexical_doc :=
		setweight(to_tsvector('english', coalesce(NEW.title, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(NEW.summary, '')), 'B') ||
		setweight(to_tsvector('english', array_to_string(coalesce(NEW.tags, '{}'), ' ')), 'C') ||
		setweight(to_tsvector('english', array_to_string(coalesce(NEW.auto_tags, '{}'), ' ')), 'C');
	RETURN NEW;
END
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS content_lexical_update ON content;
CREATE TRIGGER content_lexical_update
	BEFORE INSERT OR UPDATE ON content
	FOR EACH ROW EXECUTE FUNCTION content_lexical_trigger();

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES content(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	text TEXT NOT NULL,
	embedding vector(%[1]d),
	embedding_model TEXT NOT NULL DEFAULT '',
	source_ref TEXT NOT NULL DEFAULT '',
	start_char INT,
	end_char INT,
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'chunks_embedding_hnsw_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_hnsw_idx ON chunks USING hnsw (embedding vector_cosine_ops)';
	END IF;
END
$$;

CREATE TABLE IF NOT EXISTS review_queue (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL UNIQUE REFERENCES content(id) ON DELETE CASCADE,
	fsrs_state JSONB NOT NULL DEFAULT '{}',
	next_review TIMESTAMPTZ,
	last_reviewed TIMESTAMPTZ,
	review_count INT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS review_queue_due_idx
	ON review_queue (next_review) WHERE status = 'active';
`

// withRetry retries fn up to s.retryAttempts times with exponential
// backoff (1s, 2s, 4s) on transient connection failures. Each attempt is
// bounded by the pool-acquire timeout; an attempt that exhausts it while
// the caller's context is still live surfaces as ConnectionExhausted.
// Non-transient errors propagate immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		attemptCtx, cancel := acquireTimeout(ctx, s.poolTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		if attempt == s.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperr.Cancelled(ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	s.log.Error().Err(lastErr).Str("op", op).Int("attempts", s.retryAttempts+1).Msg("store_operation_exhausted_retries")
	if errors.Is(lastErr, context.DeadlineExceeded) && ctx.Err() == nil {
		return apperr.ConnectionExhausted(lastErr)
	}
	return apperr.StoreUnavailable(lastErr)
}

func isTransient(err error) bool {
	if _, ok := apperr.As(err); ok {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "08000", "08003", "08006", "08001", "08004", "53300", "57P03":
			return true
		}
		return false
	}
	// Connection-level errors surfaced directly by pgx (pool exhaustion,
	// dial failures) that are not wrapped PgErrors are treated as
	// transient too.
	return !errors.Is(err, pgx.ErrNoRows)
}

// acquireTimeout bounds one whole store attempt (pool acquire plus the
// statements run on the connection); withRetry maps an attempt that ran
// out of this deadline to ConnectionExhausted once retries are used up.
func acquireTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
