package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/recall/recalld/internal/model"
)

// NewChunk is the chunk payload handed to ReplaceChunks, before IDs are
// assigned.
type NewChunk struct {
	Text           string
	Embedding      []float32
	EmbeddingModel string
	SourceRef      string
	StartChar      *int
	EndChar        *int
}

// ReplaceChunks atomically deletes all existing chunks for a document and
// inserts the new set with a dense 0-based chunk_index, in a single
// transaction so no partial mid-ingest view is ever visible to search.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, chunks []NewChunk) error {
	return s.withRetry(ctx, "replace_chunks", func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
			return err
		}

		for idx, c := range chunks {
			var embArg any
			if c.Embedding != nil {
				embArg = pgvector.NewVector(c.Embedding)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO chunks (id, document_id, chunk_index, text, embedding, embedding_model, source_ref, start_char, end_char)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				uuid.New(), documentID, idx, c.Text, embArg, c.EmbeddingModel, c.SourceRef, c.StartChar, c.EndChar,
			); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})
}

// VectorHit is one result of an approximate-nearest-neighbor chunk search.
type VectorHit struct {
	DocumentID uuid.UUID
	ChunkID    uuid.UUID
	ChunkText  string
	SourceRef  string
	Distance   float64
}

// VectorSearch runs an ANN query over chunk embeddings, pre-limiting by
// distance before joining back to content for deduplication, so no step
// ever scans all chunk rows.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, limit int, namespace string) ([]VectorHit, error) {
	var hits []VectorHit
	err := s.withRetry(ctx, "vector_search", func(ctx context.Context) error {
		const query = `
			WITH nearest AS (
				SELECT c.id AS chunk_id, c.document_id, c.text, c.source_ref,
				       c.embedding <=> $1 AS distance
				FROM chunks c
				WHERE c.embedding IS NOT NULL
				ORDER BY c.embedding <=> $1
				LIMIT $2
			)
			SELECT document_id, chunk_id, text, source_ref, distance FROM (
				SELECT DISTINCT ON (n.document_id)
				       n.document_id, n.chunk_id, n.text, n.source_ref, n.distance
				FROM nearest n
				JOIN content d ON d.id = n.document_id
				WHERE d.deleted_at IS NULL AND ($3 = '' OR d.namespace LIKE $3 || '%')
				ORDER BY n.document_id, n.distance ASC
			) best
			ORDER BY distance ASC`

		rows, qErr := s.pool.Query(ctx, query, pgvector.NewVector(embedding), limit, namespace)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		hits = nil
		for rows.Next() {
			var h VectorHit
			if sErr := rows.Scan(&h.DocumentID, &h.ChunkID, &h.ChunkText, &h.SourceRef, &h.Distance); sErr != nil {
				return sErr
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

// ChunksForDocument returns all chunks belonging to a document in index
// order.
func (s *Store) ChunksForDocument(ctx context.Context, documentID uuid.UUID) ([]model.Chunk, error) {
	var chunks []model.Chunk
	err := s.withRetry(ctx, "chunks_for_document", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, document_id, chunk_index, text, embedding_model, source_ref, start_char, end_char
			FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
		if err != nil {
			return err
		}
		defer rows.Close()
		chunks = nil
		for rows.Next() {
			var c model.Chunk
			if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.EmbeddingModel, &c.SourceRef, &c.StartChar, &c.EndChar); err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return rows.Err()
	})
	return chunks, err
}

// CountChunks returns how many chunks belong to a document, used by the
// Ingestor to report chunks_created without re-reading chunk bodies.
func (s *Store) CountChunks(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := s.withRetry(ctx, "count_chunks", func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	})
	return n, err
}
