package store

import "context"

// Stats summarizes the catalog for the /stats and /health endpoints.
type Stats struct {
	TotalContent int            `json:"total_content"`
	TotalChunks  int            `json:"total_chunks"`
	ByType       map[string]int `json:"by_type"`
}

// CollectStats counts non-deleted documents, their chunks, and the
// per-type breakdown.
func (s *Store) CollectStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByType: map[string]int{}}
	err := s.withRetry(ctx, "collect_stats", func(ctx context.Context) error {
		if err := s.pool.QueryRow(ctx,
			`SELECT count(*) FROM content WHERE deleted_at IS NULL`,
		).Scan(&stats.TotalContent); err != nil {
			return err
		}
		if err := s.pool.QueryRow(ctx, `
			SELECT count(*) FROM chunks c
			JOIN content d ON d.id = c.document_id
			WHERE d.deleted_at IS NULL`,
		).Scan(&stats.TotalChunks); err != nil {
			return err
		}

		rows, err := s.pool.Query(ctx,
			`SELECT type, count(*) FROM content WHERE deleted_at IS NULL GROUP BY type`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var typ string
			var n int
			if err := rows.Scan(&typ, &n); err != nil {
				return err
			}
			stats.ByType[typ] = n
		}
		return rows.Err()
	})
	return stats, err
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
