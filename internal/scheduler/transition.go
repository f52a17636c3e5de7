package scheduler

import (
	"time"

	"github.com/recall/recalld/internal/model"
)

// Params tune the scheduling policy around the fixed FSRS model weights.
type Params struct {
	RequestRetention float64
	MaximumInterval  int // days
}

// DefaultParams match the py-fsrs defaults.
func DefaultParams() Params {
	return Params{RequestRetention: 0.9, MaximumInterval: 36500}
}

// learning-step intervals used while an item is in the learning or
// relearning state; these stay sub-day.
const (
	stepAgain = 1 * time.Minute
	stepHard  = 5 * time.Minute
	stepGood  = 10 * time.Minute
)

// transition applies a rating to an FSRS state at the given time and
// returns the successor state plus the interval to the next review.
func transition(st model.FsrsState, rating model.Rating, now time.Time, p Params) (model.FsrsState, time.Duration) {
	next := st
	next.Reps++

	elapsed := 0.0
	if st.LastReview != nil {
		elapsed = now.Sub(*st.LastReview).Hours() / 24
		if elapsed < 0 {
			elapsed = 0
		}
	}
	next.ElapsedDays = elapsed

	var interval time.Duration
	switch st.State {
	case model.LearnNew, "":
		next.Stability = initialStability(int(rating) - 1)
		next.Difficulty = initialDifficulty(int(rating) - 1)
		switch rating {
		case model.RatingAgain:
			next.State = model.LearnLearning
			interval = stepAgain
		case model.RatingHard:
			next.State = model.LearnLearning
			interval = stepHard
		default:
			// Good and Easy graduate straight to review with a
			// forgetting-curve interval.
			next.State = model.LearnReview
			interval = p.dayInterval(next.Stability)
		}

	case model.LearnLearning, model.LearnRelearning:
		switch rating {
		case model.RatingAgain:
			interval = stepAgain
		case model.RatingHard:
			interval = stepHard
		case model.RatingGood:
			next.State = model.LearnReview
			interval = p.dayInterval(next.Stability)
		case model.RatingEasy:
			next.State = model.LearnReview
			next.Stability = nextStabilityReview(next.Difficulty, next.Stability, 1, ratingEasyValue)
			interval = p.dayInterval(next.Stability)
		}

	case model.LearnReview:
		r := retrievability(elapsed, st.Stability)
		next.Difficulty = nextDifficulty(st.Difficulty, int(rating))
		if rating == model.RatingAgain {
			next.Lapses++
			next.Stability = nextStabilityLapse(st.Difficulty, st.Stability, r)
			next.State = model.LearnRelearning
			interval = stepGood
		} else {
			next.Stability = nextStabilityReview(st.Difficulty, st.Stability, r, int(rating))
			interval = p.dayInterval(next.Stability)
		}
	}

	next.ScheduledDays = interval.Hours() / 24
	last := now
	next.LastReview = &last
	return next, interval
}

// dayInterval converts a stability into a scheduling interval in
// fractional days (not rounded to whole days), clamped to the configured
// maximum.
func (p Params) dayInterval(stability float64) time.Duration {
	days := intervalDays(stability, p.RequestRetention)
	max := float64(p.MaximumInterval)
	if max > 0 && days > max {
		days = max
	}
	return time.Duration(days * 24 * float64(time.Hour))
}
