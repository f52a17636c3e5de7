// Package qa implements the question-answering pipeline: retrieve via
// hybrid search, gate on a confidence score derived from rerank (or
// fused) scores, and synthesize a cited answer via the LLM gateway.
package qa

import (
	"context"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"github.com/recall/recalld/internal/llm"
	"github.com/recall/recalld/internal/search"
)

// Confidence is the qualitative gate computed from retrieval scores.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Citation is one cited source backing an answer.
type Citation struct {
	ContentID uuid.UUID `json:"content_id"`
	Title     string    `json:"title"`
	ChunkText string    `json:"chunk_text"`
	SourceRef string    `json:"source_ref,omitempty"`
}

// Result is the public return shape of an ask.
type Result struct {
	Answer     string     `json:"answer"`
	Confidence Confidence `json:"confidence"`
	Citations  []Citation `json:"citations"`
	Degraded   bool       `json:"degraded,omitempty"`
}

const insufficientEvidenceAnswer = "I don't have enough reliable information in your knowledge base to answer that confidently."
const contextSize = 5

// Searcher is the retrieval slice the Q&A engine depends on.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, opts search.Options) (search.Result, error)
}

// Engine is the Q&A pipeline. It holds only {Search, LLM}, with no
// callback into the search layer.
type Engine struct {
	search Searcher
	llm    *llm.Gateway
}

// New constructs a Q&A Engine.
func New(s Searcher, g *llm.Gateway) *Engine {
	return &Engine{search: s, llm: g}
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Ask runs retrieve -> confidence-gate -> cited synthesis.
func (e *Engine) Ask(ctx context.Context, question string) (Result, error) {
	sr, err := e.search.HybridSearch(ctx, question, search.Options{Limit: 10, Rerank: true, UseCache: true})
	if err != nil {
		return Result{}, err
	}

	if len(sr.Items) == 0 {
		return Result{Answer: "No information found in your knowledge base for this question.", Confidence: ConfidenceLow, Citations: []Citation{}}, nil
	}

	confidence, _ := computeConfidence(sr.Items)
	if confidence == ConfidenceLow {
		return Result{Answer: insufficientEvidenceAnswer, Confidence: ConfidenceLow, Citations: []Citation{}, Degraded: sr.Degraded}, nil
	}

	contextItems := sr.Items
	if len(contextItems) > contextSize {
		contextItems = contextItems[:contextSize]
	}

	numbered := make([]llm.NumberedChunk, len(contextItems))
	for i, it := range contextItems {
		numbered[i] = llm.NumberedChunk{Index: i + 1, Title: it.Title, Text: it.ChunkText}
	}

	systemPrompt, userPrompt := llm.BuildPrompt(question, numbered)
	genResult, err := e.llm.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Result{}, err
	}

	citations := extractCitations(genResult.Answer, contextItems)
	return Result{Answer: genResult.Answer, Confidence: confidence, Citations: citations, Degraded: sr.Degraded}, nil
}

// computeConfidence combines the top score and the average of the top
// three, weighted 0.6/0.4, using rerank scores when present else fused
// scores.
func computeConfidence(items []search.Item) (Confidence, float64) {
	scores := make([]float64, len(items))
	for i, it := range items {
		if it.RerankScore != nil {
			scores[i] = *it.RerankScore
		} else {
			scores[i] = it.FusedScore
		}
	}

	top := scores[0]
	n := len(scores)
	if n > 3 {
		n = 3
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += scores[i]
	}
	avg3 := sum / float64(n)

	confidence := 0.6*top + 0.4*avg3
	switch {
	case confidence < 0.3:
		return ConfidenceLow, confidence
	case confidence < 0.7:
		return ConfidenceMedium, confidence
	default:
		return ConfidenceHigh, confidence
	}
}

// extractCitations scans the answer for [n] markers and returns the
// corresponding context item as a citation record, in first-appearance
// order and without duplicates.
func extractCitations(answer string, context []search.Item) []Citation {
	matches := citationRe.FindAllStringSubmatch(answer, -1)
	seen := make(map[int]struct{})
	citations := []Citation{}
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(context) {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		item := context[n-1]
		citations = append(citations, Citation{
			ContentID: item.DocumentID,
			Title:     item.Title,
			ChunkText: item.ChunkText,
			SourceRef: item.SourceRef,
		})
	}
	return citations
}
