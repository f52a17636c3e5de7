// Package model defines the entities shared across the ingestion,
// search, Q&A, and scheduling pipelines: Document, Chunk, and ReviewItem.
package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType enumerates the kinds of artifacts the system ingests.
type DocumentType string

const (
	TypeYoutube  DocumentType = "youtube"
	TypeBookmark DocumentType = "bookmark"
	TypeFile     DocumentType = "file"
	TypeNote     DocumentType = "note"
	TypeCapture  DocumentType = "capture"
	TypePattern  DocumentType = "pattern"
	TypeDecision DocumentType = "decision"
)

// Document represents one ingested artifact.
type Document struct {
	ID           uuid.UUID
	Filepath     string
	ContentHash  string
	Type         DocumentType
	URL          string
	Title        string
	Summary      string
	AutoTags     []string
	Tags         []string
	Metadata     map[string]any
	Namespace    string
	QualityScore int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CapturedAt   time.Time
	DeletedAt    *time.Time
}

// Chunk is a retrieval unit belonging to exactly one document.
type Chunk struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	ChunkIndex     int
	Text           string
	Embedding      []float32
	EmbeddingModel string
	SourceRef      string
	StartChar      *int
	EndChar        *int
}

// ReviewStatus is the lifecycle status of a ReviewItem.
type ReviewStatus string

const (
	StatusActive    ReviewStatus = "active"
	StatusArchived  ReviewStatus = "archived"
	StatusSuspended ReviewStatus = "suspended"
)

// FsrsState is the opaque FSRS algorithm state carried per ReviewItem.
type FsrsState struct {
	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   float64    `json:"elapsed_days"`
	ScheduledDays float64    `json:"scheduled_days"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	State         LearnState `json:"state"`
	LastReview    *time.Time `json:"last_review"`
}

// LearnState is the FSRS learning-progress state.
type LearnState string

const (
	LearnNew        LearnState = "new"
	LearnLearning   LearnState = "learning"
	LearnReview     LearnState = "review"
	LearnRelearning LearnState = "relearning"
)

// ReviewItem is the zero-or-one spaced-repetition state per document.
type ReviewItem struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	FsrsState    FsrsState
	NextReview   *time.Time
	LastReviewed *time.Time
	ReviewCount  int
	Status       ReviewStatus
}

// Rating is a spaced-repetition recall quality grade submitted by the user.
type Rating int

const (
	RatingAgain Rating = 1
	RatingHard  Rating = 2
	RatingGood  Rating = 3
	RatingEasy  Rating = 4
)
