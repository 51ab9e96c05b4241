package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-sh/worklog/segment"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1, false},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, false},
		{"zero magnitude", []float32{0, 0}, []float32{1, 0}, 0, false},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestHybridScorer(t *testing.T) {
	refsA := map[string]struct{}{"PROJ-1": {}, "PROJ-2": {}}
	refsB := map[string]struct{}{"PROJ-1": {}}
	// Jaccard(refsA, refsB) = 1/2.

	t.Run("disabled uses references only", func(t *testing.T) {
		s := HybridScorer{Enabled: false, ReferenceWeight: 0.6, EmbeddingWeight: 0.4}
		assert.InDelta(t, 0.5, s.Score(refsA, refsB, []float32{1, 0}, []float32{1, 0}), 1e-9)
	})

	t.Run("missing embedding uses references only", func(t *testing.T) {
		s := HybridScorer{Enabled: true, ReferenceWeight: 0.6, EmbeddingWeight: 0.4}
		assert.InDelta(t, 0.5, s.Score(refsA, refsB, nil, []float32{1, 0}), 1e-9)
	})

	t.Run("blends reference and cosine", func(t *testing.T) {
		s := HybridScorer{Enabled: true, ReferenceWeight: 0.6, EmbeddingWeight: 0.4}
		got := s.Score(refsA, refsB, []float32{1, 0}, []float32{1, 0})
		assert.InDelta(t, 0.6*0.5+0.4*1.0, got, 1e-9)
	})

	t.Run("negative cosine clamps to zero", func(t *testing.T) {
		s := HybridScorer{Enabled: true, ReferenceWeight: 0.6, EmbeddingWeight: 0.4}
		got := s.Score(refsA, refsB, []float32{1, 0}, []float32{-1, 0})
		assert.InDelta(t, 0.6*0.5, got, 1e-9)
	})
}

// fakeProvider returns a constant vector per text, or an error.
type fakeProvider struct {
	calls int
	fail  bool
}

func (p *fakeProvider) Model() string { return "fake-embedding" }

func (p *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

// memCache is an in-memory EmbeddingCache.
type memCache struct {
	entries map[string]*store.CachedEmbedding
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]*store.CachedEmbedding{}}
}

func (c *memCache) key(conversationID, textHash string) string { return conversationID + ":" + textHash }

func (c *memCache) Get(_ context.Context, conversationID, textHash string) (*store.CachedEmbedding, error) {
	return c.entries[c.key(conversationID, textHash)], nil
}

func (c *memCache) GetBatch(ctx context.Context, keys []store.EmbeddingKey) (map[string]*store.CachedEmbedding, error) {
	out := map[string]*store.CachedEmbedding{}
	for _, k := range keys {
		if e := c.entries[c.key(k.ConversationID, k.TextHash)]; e != nil {
			out[k.ConversationID] = e
		}
	}
	return out, nil
}

func (c *memCache) Set(_ context.Context, entry *store.CachedEmbedding) error {
	c.sets++
	c.entries[c.key(entry.ConversationID, entry.TextHash)] = entry
	return nil
}

func (c *memCache) SetBatch(ctx context.Context, entries []*store.CachedEmbedding) error {
	for _, e := range entries {
		if err := c.Set(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (c *memCache) Clear(_ context.Context, conversationID string) error {
	for k := range c.entries {
		delete(c.entries, k)
	}
	return nil
}

func testConv(id, text string) *segment.Conversation {
	c := &segment.Conversation{ID: id}
	if text != "" {
		c.Messages = []slack.Message{{TS: "1.000000", User: "U1", Text: text}}
	}
	return c
}

func TestPrepareConversationEmbeddings(t *testing.T) {
	t.Run("misses hit the provider and land in the cache", func(t *testing.T) {
		cache := newMemCache()
		provider := &fakeProvider{}
		convs := []*segment.Conversation{testConv("a", "hello"), testConv("b", "world wide")}

		results := PrepareConversationEmbeddings(context.Background(), cache, provider, convs)
		require.Len(t, results, 2)
		assert.NotEmpty(t, results["a"].Embedding)
		assert.NotEmpty(t, results["b"].Embedding)
		assert.Equal(t, 1, provider.calls)
		assert.Equal(t, 2, cache.sets)
	})

	t.Run("cached conversations skip the provider", func(t *testing.T) {
		cache := newMemCache()
		provider := &fakeProvider{}
		conv := testConv("a", "hello")

		PrepareConversationEmbeddings(context.Background(), cache, provider, []*segment.Conversation{conv})
		require.Equal(t, 1, provider.calls)

		results := PrepareConversationEmbeddings(context.Background(), cache, provider, []*segment.Conversation{conv})
		assert.Equal(t, 1, provider.calls, "second run must be served from cache")
		assert.NotEmpty(t, results["a"].Embedding)
	})

	t.Run("empty text never reaches the provider", func(t *testing.T) {
		cache := newMemCache()
		provider := &fakeProvider{}

		results := PrepareConversationEmbeddings(context.Background(), cache, provider, []*segment.Conversation{testConv("a", "")})
		assert.Zero(t, provider.calls)
		assert.Nil(t, results["a"].Embedding)
	})

	t.Run("provider failure degrades to nil embeddings", func(t *testing.T) {
		cache := newMemCache()
		provider := &fakeProvider{fail: true}

		results := PrepareConversationEmbeddings(context.Background(), cache, provider, []*segment.Conversation{testConv("a", "hello")})
		require.Len(t, results, 1)
		assert.Nil(t, results["a"].Embedding)
	})
}

func TestTextHashChangesWithText(t *testing.T) {
	assert.NotEqual(t, TextHash("a"), TextHash("b"))
	assert.Equal(t, TextHash("same"), TextHash("same"))
	assert.Len(t, TextHash("x"), 64)
}
