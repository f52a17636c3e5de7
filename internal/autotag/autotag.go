// Package autotag extracts machine-generated tags for newly ingested
// documents by prompting the LLM gateway with the title, summary, and
// leading chunks. It runs after the ingest response is already committed,
// so failure only means a document stays untagged.
package autotag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recall/recalld/internal/llm"
)

// Store is the single write the tagger performs.
type Store interface {
	UpdateAutoTags(ctx context.Context, id uuid.UUID, autoTags []string, summary string) error
}

// Tagger prompts the LLM gateway for a short tag list per document.
type Tagger struct {
	store   Store
	llm     *llm.Gateway
	timeout time.Duration
	log     zerolog.Logger
}

const maxTags = 8

// New constructs a Tagger.
func New(st Store, gateway *llm.Gateway, log zerolog.Logger) *Tagger {
	return &Tagger{
		store:   st,
		llm:     gateway,
		timeout: 30 * time.Second,
		log:     log.With().Str("component", "autotag").Logger(),
	}
}

// Tag generates and stores tags for one document. Errors are logged and
// swallowed; the caller fires this in a goroutine and never blocks on it.
func (t *Tagger) Tag(documentID uuid.UUID, title, summary string, firstChunks []string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	system := "You label documents for a personal knowledge base. " +
		"Reply with a comma-separated list of at most " + fmt.Sprint(maxTags) +
		" short lowercase topic tags and nothing else."

	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(title)
	if summary != "" {
		b.WriteString("\nSummary: ")
		b.WriteString(summary)
	}
	for i, chunk := range firstChunks {
		if i >= 2 {
			break
		}
		b.WriteString("\nExcerpt: ")
		b.WriteString(truncate(chunk, 1000))
	}

	result, err := t.llm.Generate(ctx, system, b.String())
	if err != nil {
		t.log.Warn().Err(err).Str("document_id", documentID.String()).Msg("autotag_generation_failed")
		return
	}

	tags := parseTags(result.Answer)
	if len(tags) == 0 {
		return
	}

	if err := t.store.UpdateAutoTags(ctx, documentID, tags, ""); err != nil {
		t.log.Warn().Err(err).Str("document_id", documentID.String()).Msg("autotag_store_failed")
		return
	}
	t.log.Debug().Str("document_id", documentID.String()).Strs("tags", tags).Msg("autotagged")
}

// parseTags splits a comma- or newline-separated model reply into clean,
// deduplicated lowercase tags.
func parseTags(answer string) []string {
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	seen := make(map[string]struct{}, len(fields))
	var tags []string
	for _, f := range fields {
		tag := strings.ToLower(strings.Trim(strings.TrimSpace(f), `"'.#`))
		if tag == "" || len(tag) > 60 {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
