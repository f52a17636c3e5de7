package store

import (
	"context"

	"github.com/google/uuid"
)

// LexicalHit is one result of a full-text search ranked by relevance.
type LexicalHit struct {
	DocumentID uuid.UUID
	RankScore  float64
}

// LexicalSearch runs plainto_tsquery semantics over the trigger-maintained
// lexical_doc column, respecting deleted_at and an optional namespace
// prefix, and returns the top-N by rank.
func (s *Store) LexicalSearch(ctx context.Context, query string, limit int, namespace string) ([]LexicalHit, error) {
	var hits []LexicalHit
	err := s.withRetry(ctx, "lexical_search", func(ctx context.Context) error {
		const sql = `
			SELECT id, ts_rank(lexical_doc, plainto_tsquery('english', $1)) AS rank
			FROM content
			WHERE deleted_at IS NULL
			  AND lexical_doc @@ plainto_tsquery('english', $1)
			  AND ($3 = '' OR namespace LIKE $3 || '%')
			ORDER BY rank DESC
			LIMIT $2`

		rows, qErr := s.pool.Query(ctx, sql, query, limit, namespace)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		hits = nil
		for rows.Next() {
			var h LexicalHit
			if sErr := rows.Scan(&h.DocumentID, &h.RankScore); sErr != nil {
				return sErr
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}
