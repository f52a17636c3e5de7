package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall/recalld/internal/model"
)

func TestChunkNoteShortContent(t *testing.T) {
	c := New(DefaultConfig())
	units := c.Chunk(ChunkInput{Type: model.TypeNote, Text: "A short note about Go generics."})
	require.Len(t, units, 1)
	assert.Equal(t, "A short note about Go generics.", units[0].Text)
}

func TestChunkNoteSplitsLongContent(t *testing.T) {
	c := New(DefaultConfig())
	paragraph := strings.Repeat("Sentence about retrieval quality. ", 40)
	text := paragraph + "\n\n" + paragraph + "\n\n" + paragraph
	units := c.Chunk(ChunkInput{Type: model.TypeNote, Text: text})
	require.Greater(t, len(units), 1)
	for _, u := range units {
		assert.NotEmpty(t, strings.TrimSpace(u.Text))
		assert.LessOrEqual(t, len(u.Text), DefaultConfig().MaxChunkChars)
	}
}

func TestChunkYoutubeWindows(t *testing.T) {
	c := New(DefaultConfig())
	var segments []CaptionSegment
	for sec := 0; sec < 600; sec += 30 {
		segments = append(segments, CaptionSegment{
			StartSeconds: sec,
			Text:         "Spoken words in this segment end here.",
		})
	}
	units := c.Chunk(ChunkInput{Type: model.TypeYoutube, Captions: segments})
	require.GreaterOrEqual(t, len(units), 2)
	assert.Equal(t, "timestamp:0:00", units[0].SourceRef)
	for _, u := range units {
		assert.True(t, strings.HasPrefix(u.SourceRef, "timestamp:"))
	}
}

func TestChunkYoutubeNoCaptionsFallsBack(t *testing.T) {
	c := New(DefaultConfig())
	units := c.Chunk(ChunkInput{Type: model.TypeYoutube, Text: "Transcript without timing data, still indexable."})
	require.Len(t, units, 1)
	assert.Empty(t, units[0].SourceRef)
}

func TestChunkPDFPageRefs(t *testing.T) {
	c := New(DefaultConfig())
	pages := []string{
		"First page content.",
		"",
		"Third page content.",
	}
	units := c.ChunkPDF(pages)
	require.Len(t, units, 2)
	assert.Equal(t, "page:1", units[0].SourceRef)
	assert.Equal(t, "page:3", units[1].SourceRef)
}

func TestChunkPDFOversizedPageRecursivelySplit(t *testing.T) {
	c := New(DefaultConfig())
	big := strings.Repeat("A long sentence that keeps going for a while. ", 200)
	units := c.ChunkPDF([]string{big})
	require.Greater(t, len(units), 1)
	for _, u := range units {
		assert.Equal(t, "page:1", u.SourceRef)
	}
}

func TestChunkBookmarkParagraphPacking(t *testing.T) {
	c := New(DefaultConfig())
	para := strings.Repeat("Web article prose with several words per sentence. ", 20)
	text := para + "\n\n" + para + "\n\n" + para
	units := c.Chunk(ChunkInput{Type: model.TypeBookmark, Text: text})
	require.NotEmpty(t, units)
	for _, u := range units {
		assert.LessOrEqual(t, approxTokens(u.Text), DefaultConfig().ParagraphTokens+DefaultConfig().ParagraphTokens/4)
	}
}

func TestPostProcessSplitsOversizedChunks(t *testing.T) {
	c := New(Config{MaxChunkChars: 100, RecursiveTokens: 400})
	units := c.postProcess([]Unit{{Text: strings.Repeat("x", 350), SourceRef: "page:2"}})
	require.Len(t, units, 4)
	for _, u := range units {
		assert.LessOrEqual(t, len(u.Text), 100)
		assert.Equal(t, "page:2", u.SourceRef)
	}
}

func TestPostProcessDropsEmpties(t *testing.T) {
	c := New(DefaultConfig())
	units := c.postProcess([]Unit{{Text: "  \n "}, {Text: "kept"}})
	require.Len(t, units, 1)
	assert.Equal(t, "kept", units[0].Text)
}

func TestTimestampRef(t *testing.T) {
	assert.Equal(t, "timestamp:0:00", timestampRef(0))
	assert.Equal(t, "timestamp:3:05", timestampRef(185))
	assert.Equal(t, "timestamp:12:30", timestampRef(750))
}
