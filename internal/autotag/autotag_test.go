package autotag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recall/recalld/internal/llm"
)

type memStore struct {
	mu   sync.Mutex
	tags map[uuid.UUID][]string
}

func (m *memStore) UpdateAutoTags(_ context.Context, id uuid.UUID, autoTags []string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tags == nil {
		m.tags = map[uuid.UUID][]string{}
	}
	m.tags[id] = autoTags
	return nil
}

type stubProvider struct {
	answer string
	err    error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(_ context.Context, _ []llm.Message, _ time.Duration) (llm.Result, error) {
	if p.err != nil {
		return llm.Result{}, p.err
	}
	return llm.Result{Answer: p.answer}, nil
}

func newTagger(st Store, p llm.Provider) *Tagger {
	return New(st, llm.NewGateway([]llm.Provider{p}, time.Second, zerolog.Nop()), zerolog.Nop())
}

func TestTagStoresParsedTags(t *testing.T) {
	st := &memStore{}
	tagger := newTagger(st, &stubProvider{answer: "Go, retrieval, Spaced Repetition"})
	id := uuid.New()

	tagger.Tag(id, "My note", "", []string{"chunk"})

	require.Contains(t, st.tags, id)
	assert.Equal(t, []string{"go", "retrieval", "spaced repetition"}, st.tags[id])
}

func TestTagFailureIsSwallowed(t *testing.T) {
	st := &memStore{}
	tagger := newTagger(st, &stubProvider{err: context.DeadlineExceeded})
	tagger.Tag(uuid.New(), "title", "", nil)
	assert.Empty(t, st.tags)
}

func TestParseTags(t *testing.T) {
	tags := parseTags("alpha, Beta\n  \"gamma\".\nalpha, , delta")
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, tags)
}

func TestParseTagsCap(t *testing.T) {
	tags := parseTags("a, b, c, d, e, f, g, h, i, j")
	assert.Len(t, tags, maxTags)
}
