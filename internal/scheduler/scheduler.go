package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/recall/recalld/internal/apperr"
	"github.com/recall/recalld/internal/model"
)

// Store is the persistence slice the scheduler depends on.
type Store interface {
	GetReview(ctx context.Context, documentID uuid.UUID) (model.ReviewItem, bool, error)
	UpsertReview(ctx context.Context, documentID uuid.UUID, state model.FsrsState, nextReview *time.Time, lastReviewed *time.Time, reviewCount int, status model.ReviewStatus) (model.ReviewItem, error)
	DueReviews(ctx context.Context, now time.Time, limit int) ([]model.ReviewItem, error)
	SetReviewStatus(ctx context.Context, documentID uuid.UUID, status model.ReviewStatus, nextReview *time.Time) error
}

// Scheduler is the spaced-repetition state machine over review items.
// A small in-process LRU fronts per-document reads so repeated lookups
// within a review session skip the store; it is updated on every write so
// read-your-writes holds inside the process.
type Scheduler struct {
	store  Store
	params Params
	recent *lru.Cache[uuid.UUID, model.ReviewItem]
	log    zerolog.Logger
}

const recentItems = 512

// New constructs a Scheduler.
func New(st Store, params Params, log zerolog.Logger) *Scheduler {
	if params.RequestRetention <= 0 || params.RequestRetention >= 1 {
		params.RequestRetention = DefaultParams().RequestRetention
	}
	if params.MaximumInterval <= 0 {
		params.MaximumInterval = DefaultParams().MaximumInterval
	}
	cache, _ := lru.New[uuid.UUID, model.ReviewItem](recentItems)
	return &Scheduler{
		store:  st,
		params: params,
		recent: cache,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Add creates a new-state review item due immediately. Adding a document
// that already has one is a no-op returning the existing item.
func (s *Scheduler) Add(ctx context.Context, documentID uuid.UUID, now time.Time) (model.ReviewItem, error) {
	if item, ok, err := s.lookup(ctx, documentID); err != nil {
		return model.ReviewItem{}, err
	} else if ok {
		return item, nil
	}

	state := model.FsrsState{State: model.LearnNew}
	due := now
	item, err := s.store.UpsertReview(ctx, documentID, state, &due, nil, 0, model.StatusActive)
	if err != nil {
		return model.ReviewItem{}, err
	}
	s.recent.Add(documentID, item)
	return item, nil
}

// Due returns active items with next_review at or before now, ordered by
// next_review ascending, capped at limit.
func (s *Scheduler) Due(ctx context.Context, now time.Time, limit int) ([]model.ReviewItem, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.DueReviews(ctx, now, limit)
}

// Submit applies a rating to the item's FSRS state and returns the new
// next_review. A duplicate submission at the same last_reviewed timestamp
// is a no-op returning the already-scheduled next_review.
func (s *Scheduler) Submit(ctx context.Context, documentID uuid.UUID, rating model.Rating, now time.Time) (model.ReviewItem, error) {
	if rating < model.RatingAgain || rating > model.RatingEasy {
		return model.ReviewItem{}, apperr.Validation(fmt.Sprintf("rating must be 1..4, got %d", rating), nil)
	}

	item, ok, err := s.lookup(ctx, documentID)
	if err != nil {
		return model.ReviewItem{}, err
	}
	if !ok {
		return model.ReviewItem{}, apperr.NotFound(fmt.Sprintf("no review item for document %s", documentID))
	}

	if item.LastReviewed != nil && item.LastReviewed.Equal(now) {
		return item, nil
	}

	state, interval := transition(item.FsrsState, rating, now, s.params)
	next := now.Add(interval)
	reviewed := now

	updated, err := s.store.UpsertReview(ctx, documentID, state, &next, &reviewed, item.ReviewCount+1, model.StatusActive)
	if err != nil {
		return model.ReviewItem{}, err
	}
	s.recent.Add(documentID, updated)
	s.log.Debug().
		Str("document_id", documentID.String()).
		Int("rating", int(rating)).
		Str("state", string(state.State)).
		Time("next_review", next).
		Msg("review_submitted")
	return updated, nil
}

// Suspend pauses scheduling for a document; next_review is cleared.
func (s *Scheduler) Suspend(ctx context.Context, documentID uuid.UUID) error {
	return s.setStatus(ctx, documentID, model.StatusSuspended)
}

// Archive retires an item from scheduling; next_review is cleared.
func (s *Scheduler) Archive(ctx context.Context, documentID uuid.UUID) error {
	return s.setStatus(ctx, documentID, model.StatusArchived)
}

// Resume reactivates a suspended or archived item, making it due
// immediately so it re-enters the queue on the next due query.
func (s *Scheduler) Resume(ctx context.Context, documentID uuid.UUID, now time.Time) error {
	item, ok, err := s.lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no review item for document %s", documentID))
	}
	if err := s.store.SetReviewStatus(ctx, documentID, model.StatusActive, &now); err != nil {
		return err
	}
	item.Status = model.StatusActive
	item.NextReview = &now
	s.recent.Add(documentID, item)
	return nil
}

func (s *Scheduler) setStatus(ctx context.Context, documentID uuid.UUID, status model.ReviewStatus) error {
	item, ok, err := s.lookup(ctx, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(fmt.Sprintf("no review item for document %s", documentID))
	}
	if err := s.store.SetReviewStatus(ctx, documentID, status, nil); err != nil {
		return err
	}
	item.Status = status
	item.NextReview = nil
	s.recent.Add(documentID, item)
	return nil
}

func (s *Scheduler) lookup(ctx context.Context, documentID uuid.UUID) (model.ReviewItem, bool, error) {
	if item, ok := s.recent.Get(documentID); ok {
		return item, true, nil
	}
	item, ok, err := s.store.GetReview(ctx, documentID)
	if err != nil {
		return model.ReviewItem{}, false, err
	}
	if ok {
		s.recent.Add(documentID, item)
	}
	return item, ok, nil
}
