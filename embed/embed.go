// Package embed generates and caches conversation embeddings and scores
// conversation similarity by blending reference overlap with embedding
// cosine.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/refs"
	"github.com/worklog-sh/worklog/segment"
	"github.com/worklog-sh/worklog/store"
)

// Provider generates vectors for text batches.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type openAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds the production embedding provider on the
// OpenAI-compatible embeddings endpoint.
func NewOpenAIProvider(apiKey, model string) Provider {
	return &openAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (p *openAIProvider) Model() string { return p.model }

func (p *openAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

// TextHash is the SHA-256 hex digest keying the embedding cache. Any
// change to the conversation text produces a new hash and a cache miss.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Result holds one conversation's embedding; nil when unavailable
// (empty text or provider failure).
type Result struct {
	Embedding []float32
}

// PrepareConversationEmbeddings resolves embeddings for all
// conversations: batch cache lookup, one provider call for the misses
// with non-empty text, then a single-transaction cache write. Provider
// failure degrades to nil embeddings; this function never fails the
// pipeline.
func PrepareConversationEmbeddings(ctx context.Context, cache store.EmbeddingCache, provider Provider, convs []*segment.Conversation) map[string]Result {
	results := make(map[string]Result, len(convs))
	if len(convs) == 0 {
		return results
	}

	texts := make(map[string]string, len(convs))
	keys := make([]store.EmbeddingKey, 0, len(convs))
	for _, conv := range convs {
		text := conv.Text()
		texts[conv.ID] = text
		results[conv.ID] = Result{}
		if text == "" {
			// Empty text never goes to the API.
			continue
		}
		keys = append(keys, store.EmbeddingKey{ConversationID: conv.ID, TextHash: TextHash(text)})
	}

	cached, err := cache.GetBatch(ctx, keys)
	if err != nil {
		logging.Warn("embedding cache read failed", "error", err.Error())
		cached = map[string]*store.CachedEmbedding{}
	}

	var missIDs []string
	var missTexts []string
	for _, key := range keys {
		if entry, ok := cached[key.ConversationID]; ok {
			results[key.ConversationID] = Result{Embedding: entry.Embedding}
			continue
		}
		missIDs = append(missIDs, key.ConversationID)
		missTexts = append(missTexts, texts[key.ConversationID])
	}
	if len(missIDs) == 0 {
		return results
	}

	vectors, err := provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		logging.Warn("embedding provider failed, degrading to reference similarity", "error", err.Error(), "count", len(missIDs))
		return results
	}

	entries := make([]*store.CachedEmbedding, 0, len(missIDs))
	now := time.Now().Unix()
	for i, id := range missIDs {
		if i >= len(vectors) || len(vectors[i]) == 0 {
			continue
		}
		results[id] = Result{Embedding: vectors[i]}
		entries = append(entries, &store.CachedEmbedding{
			ConversationID: id,
			TextHash:       TextHash(missTexts[i]),
			Model:          provider.Model(),
			Dimensions:     len(vectors[i]),
			Embedding:      vectors[i],
			CreatedAt:      now,
		})
	}
	if err := cache.SetBatch(ctx, entries); err != nil {
		logging.Warn("embedding cache write failed", "error", err.Error())
	}
	return results
}

// Cosine computes cosine similarity. Dimensions must match; zero
// magnitude yields 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// HybridScorer blends reference Jaccard with embedding cosine. With
// embeddings disabled or either vector missing, the score is the
// reference similarity alone.
type HybridScorer struct {
	Enabled         bool
	ReferenceWeight float64
	EmbeddingWeight float64
}

// Score computes the hybrid similarity of two conversations given their
// similarity reference sets and optional embeddings. Negative cosine is
// clamped to 0: unrelated conversations carry no baseline similarity.
func (h HybridScorer) Score(refsA, refsB map[string]struct{}, embA, embB []float32) float64 {
	refSim := refs.Jaccard(refsA, refsB)
	if !h.Enabled || len(embA) == 0 || len(embB) == 0 {
		return refSim
	}
	cos, err := Cosine(embA, embB)
	if err != nil {
		return refSim
	}
	if cos < 0 {
		cos = 0
	}
	return h.ReferenceWeight*refSim + h.EmbeddingWeight*cos
}
