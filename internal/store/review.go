package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/recall/recalld/internal/model"
)

// GetReview fetches the ReviewItem for a document, if any.
func (s *Store) GetReview(ctx context.Context, documentID uuid.UUID) (model.ReviewItem, bool, error) {
	var item model.ReviewItem
	var found bool
	err := s.withRetry(ctx, "get_review", func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, document_id, fsrs_state, next_review, last_reviewed, review_count, status
			FROM review_queue WHERE document_id = $1`, documentID)
		item2, ok, sErr := scanReview(row)
		if sErr != nil {
			return sErr
		}
		item, found = item2, ok
		return nil
	})
	return item, found, err
}

// UpsertReview creates or replaces the review row for a document in a
// single statement; scheduler state writes are never partial.
func (s *Store) UpsertReview(ctx context.Context, documentID uuid.UUID, state model.FsrsState, nextReview *time.Time, lastReviewed *time.Time, reviewCount int, status model.ReviewStatus) (model.ReviewItem, error) {
	var result model.ReviewItem
	err := s.withRetry(ctx, "upsert_review", func(ctx context.Context) error {
		stateJSON, mErr := json.Marshal(state)
		if mErr != nil {
			return mErr
		}

		id := uuid.New()
		row := s.pool.QueryRow(ctx, `
			INSERT INTO review_queue (id, document_id, fsrs_state, next_review, last_reviewed, review_count, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (document_id) DO UPDATE SET
				fsrs_state = EXCLUDED.fsrs_state,
				next_review = EXCLUDED.next_review,
				last_reviewed = EXCLUDED.last_reviewed,
				review_count = EXCLUDED.review_count,
				status = EXCLUDED.status
			RETURNING id, document_id, fsrs_state, next_review, last_reviewed, review_count, status`,
			id, documentID, stateJSON, nextReview, lastReviewed, reviewCount, string(status),
		)
		item, _, sErr := scanReview(row)
		if sErr != nil {
			return sErr
		}
		result = item
		return nil
	})
	return result, err
}

// DueReviews returns active items due at or before now, ordered by
// next_review ascending.
func (s *Store) DueReviews(ctx context.Context, now time.Time, limit int) ([]model.ReviewItem, error) {
	var items []model.ReviewItem
	err := s.withRetry(ctx, "due_reviews", func(ctx context.Context) error {
		rows, qErr := s.pool.Query(ctx, `
			SELECT id, document_id, fsrs_state, next_review, last_reviewed, review_count, status
			FROM review_queue
			WHERE status = 'active' AND next_review <= $1
			ORDER BY next_review ASC
			LIMIT $2`, now, limit)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		items = nil
		for rows.Next() {
			item, _, sErr := scanReview(rows)
			if sErr != nil {
				return sErr
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	return items, err
}

// SetReviewStatus mutates status (suspend/archive/resume) and writes
// next_review as given; the Scheduler passes nil for any status other
// than active.
func (s *Store) SetReviewStatus(ctx context.Context, documentID uuid.UUID, status model.ReviewStatus, nextReview *time.Time) error {
	return s.withRetry(ctx, "set_review_status", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE review_queue SET status = $2, next_review = $3 WHERE document_id = $1`,
			documentID, string(status), nextReview)
		return err
	})
}

func scanReview(row rowScanner) (model.ReviewItem, bool, error) {
	var item model.ReviewItem
	var stateJSON []byte
	var status string
	err := row.Scan(&item.ID, &item.DocumentID, &stateJSON, &item.NextReview, &item.LastReviewed, &item.ReviewCount, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReviewItem{}, false, nil
	}
	if err != nil {
		return model.ReviewItem{}, false, err
	}
	item.Status = model.ReviewStatus(status)
	if len(stateJSON) > 0 {
		_ = json.Unmarshal(stateJSON, &item.FsrsState)
	}
	return item, true, nil
}
