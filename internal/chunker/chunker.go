// Package chunker splits ingested content into ordered retrieval units.
// Strategy dispatch is by document type: timed caption windows for video
// transcripts, paragraph packing for web captures, page splits for PDFs,
// and a recursive character splitter for everything else.
package chunker

import (
	"strings"
	"unicode"

	"github.com/recall/recalld/internal/model"
)

// Unit is one emitted chunk, before store IDs are assigned.
type Unit struct {
	Text      string
	SourceRef string
	StartChar *int
	EndChar   *int
}

// CaptionSegment is one timed subtitle/transcript segment for youtube-type
// content.
type CaptionSegment struct {
	StartSeconds int
	Text         string
}

// Config carries the per-type size and overlap parameters.
type Config struct {
	YoutubeWindowSeconds int
	ParagraphTokens      int
	ParagraphOverlap     float64
	RecursiveTokens      int
	RecursiveOverlap     float64
	MaxChunkChars        int
}

// DefaultConfig returns the standard size/overlap parameters.
func DefaultConfig() Config {
	return Config{
		YoutubeWindowSeconds: 180,
		ParagraphTokens:      512,
		ParagraphOverlap:     0.15,
		RecursiveTokens:      400,
		RecursiveOverlap:     0.15,
		MaxChunkChars:        10000,
	}
}

const charsPerToken = 4

// Chunker dispatches to a type-specific splitting strategy and always
// post-processes the result to drop empties and split anything still over
// the store's char limit.
type Chunker struct {
	cfg Config
}

// New constructs a Chunker with the given size/overlap configuration.
func New(cfg Config) *Chunker {
	if cfg.YoutubeWindowSeconds <= 0 {
		cfg.YoutubeWindowSeconds = 180
	}
	if cfg.ParagraphTokens <= 0 {
		cfg.ParagraphTokens = 512
	}
	if cfg.RecursiveTokens <= 0 {
		cfg.RecursiveTokens = 400
	}
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = 10000
	}
	return &Chunker{cfg: cfg}
}

// ChunkInput bundles a document's content and type-specific extras handed
// to the chunker.
type ChunkInput struct {
	Type     model.DocumentType
	Text     string
	Captions []CaptionSegment // youtube only; nil triggers fallback
}

// Chunk dispatches by content type and returns ordered, non-empty units,
// none of which exceed the store's char limit.
func (c *Chunker) Chunk(in ChunkInput) []Unit {
	var units []Unit
	switch in.Type {
	case model.TypeYoutube:
		if len(in.Captions) > 0 {
			units = c.chunkYoutube(in.Captions)
		} else {
			units = c.chunkRecursive(in.Text)
		}
	case model.TypeBookmark, model.TypeFile:
		units = c.chunkParagraphs(in.Text)
	default:
		units = c.chunkRecursive(in.Text)
	}
	return c.postProcess(units)
}

// ChunkPDF takes text already split into pages (one string per page) and
// emits one unit per non-empty page with source_ref "page:N", falling back
// to a recursive split for any page over 1000 tokens.
func (c *Chunker) ChunkPDF(pages []string) []Unit {
	var units []Unit
	for i, page := range pages {
		if approxTokens(page) > 1000 {
			for _, sub := range c.chunkRecursive(page) {
				sub.SourceRef = pageRef(i + 1)
				units = append(units, sub)
			}
			continue
		}
		trimmed := strings.TrimSpace(page)
		if trimmed == "" {
			continue
		}
		units = append(units, Unit{Text: trimmed, SourceRef: pageRef(i + 1)})
	}
	return c.postProcess(units)
}

func approxTokens(s string) int {
	return len(s) / charsPerToken
}

func pageRef(n int) string {
	return "page:" + itoa(n)
}

func timestampRef(totalSeconds int) string {
	m := totalSeconds / 60
	s := totalSeconds % 60
	return "timestamp:" + itoa(m) + ":" + pad2(s)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + itoa(n)
	}
	return itoa(n)
}

// chunkYoutube groups caption segments into ~WindowSeconds windows,
// splitting on a sentence boundary when one falls near the window edge.
func (c *Chunker) chunkYoutube(segments []CaptionSegment) []Unit {
	var units []Unit
	var buf strings.Builder
	windowStart := segments[0].StartSeconds

	flush := func() {
		text := strings.TrimSpace(buf.String())
		if text != "" {
			units = append(units, Unit{Text: text, SourceRef: timestampRef(windowStart)})
		}
		buf.Reset()
	}

	for _, seg := range segments {
		elapsed := seg.StartSeconds - windowStart
		if elapsed >= c.cfg.YoutubeWindowSeconds && endsSentence(buf.String()) {
			flush()
			windowStart = seg.StartSeconds
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(seg.Text)
	}
	flush()
	return units
}

func endsSentence(s string) bool {
	s = strings.TrimRight(s, " ")
	if s == "" {
		return true
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

// chunkParagraphs packs paragraphs up to a token budget with overlap,
// splitting on blank-line boundaries first (bookmark/web/file row).
func (c *Chunker) chunkParagraphs(text string) []Unit {
	paragraphs := splitParagraphs(text)
	return packWithOverlap(paragraphs, c.cfg.ParagraphTokens, c.cfg.ParagraphOverlap, "")
}

// chunkRecursive splits on separators in priority order until chunks fit
// the token budget, the note/generic fallback strategy.
func (c *Chunker) chunkRecursive(text string) []Unit {
	pieces := recursiveSplit(text, []string{"\n\n", "\n", ". ", " ", ""}, c.cfg.RecursiveTokens)
	return packWithOverlap(pieces, c.cfg.RecursiveTokens, c.cfg.RecursiveOverlap, "")
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// recursiveSplit tries each separator in order; any resulting piece still
// over the token budget is recursively split by the next separator.
func recursiveSplit(text string, separators []string, targetTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if approxTokens(text) <= targetTokens || len(separators) == 0 {
		return []string{text}
	}

	sep := separators[0]
	rest := separators[1:]

	var parts []string
	if sep == "" {
		parts = splitByChars(text, targetTokens*charsPerToken)
	} else {
		parts = strings.Split(text, sep)
	}

	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if approxTokens(p) > targetTokens && sep != "" {
			out = append(out, recursiveSplit(p, rest, targetTokens)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func splitByChars(text string, size int) []string {
	if size <= 0 {
		size = 400
	}
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// packWithOverlap packs text pieces (paragraphs or recursive fragments)
// into chunks up to targetTokens, carrying forward an overlap fraction of
// the previous chunk's tail text into the next chunk's head.
func packWithOverlap(pieces []string, targetTokens int, overlap float64, sourceRefPrefix string) []Unit {
	if len(pieces) == 0 {
		return nil
	}

	var units []Unit
	var current strings.Builder
	offset := 0
	chunkStart := 0

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text == "" {
			return
		}
		start := chunkStart
		end := start + len(text)
		units = append(units, Unit{Text: text, SourceRef: sourceRefPrefix, StartChar: &start, EndChar: &end})
	}

	for _, piece := range pieces {
		candidateLen := current.Len() + len(piece) + 1
		if current.Len() > 0 && candidateLen/charsPerToken > targetTokens {
			flush()
			overlapText := tailFraction(current.String(), overlap)
			chunkStart = offset - len(overlapText)
			if chunkStart < 0 {
				chunkStart = 0
			}
			current.Reset()
			if overlapText != "" {
				current.WriteString(overlapText)
				current.WriteByte(' ')
			}
		}
		if current.Len() == 0 {
			chunkStart = offset
		}
		current.WriteString(piece)
		current.WriteByte(' ')
		offset += len(piece) + 1
	}
	flush()
	return units
}

// tailFraction returns the trailing fraction of s (by character count),
// trimmed to a word boundary, used to seed cross-chunk overlap.
func tailFraction(s string, fraction float64) string {
	if fraction <= 0 {
		return ""
	}
	n := int(float64(len(s)) * fraction)
	if n <= 0 || n >= len(s) {
		return ""
	}
	tail := s[len(s)-n:]
	if idx := strings.IndexFunc(tail, unicode.IsSpace); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}

// postProcess drops empty chunks and splits any chunk over MaxChunkChars,
// then reassigns SourceRef where a split produced multiple pieces from one
// unit (keeping the original reference on each).
func (c *Chunker) postProcess(units []Unit) []Unit {
	var out []Unit
	for _, u := range units {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if len(text) <= c.cfg.MaxChunkChars {
			out = append(out, u)
			continue
		}
		for _, part := range splitByChars(text, c.cfg.MaxChunkChars) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, Unit{Text: part, SourceRef: u.SourceRef})
		}
	}
	return out
}
