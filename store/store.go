// Package store defines the cache store consumed by the fetch pipeline
// and the embedding layer. The SQLite driver lives in store/db/sqlite.
package store

import (
	"context"
	"sync"

	"github.com/worklog-sh/worklog/slack"
)

// Watermark kinds. Presence of a (user, scope, day, kind) row means that
// day's data of the kind has been fetched and can be served from cache.
const (
	KindMessages  = "messages"
	KindMentions  = "mentions"
	KindReactions = "reactions"
	KindChannels  = "channels"
)

// GlobalScope is the watermark scope for data that is not per-channel
// (mentions, reactions, channel listings).
const GlobalScope = "*"

// CachedEmbedding is a persisted conversation vector. Lookup succeeds
// only when both ConversationID and TextHash match; any text change
// invalidates the entry.
type CachedEmbedding struct {
	ConversationID string
	TextHash       string
	Model          string
	Dimensions     int
	Embedding      []float32
	CreatedAt      int64
}

// EmbeddingKey addresses one cache entry.
type EmbeddingKey struct {
	ConversationID string
	TextHash       string
}

// TableCount is one row of cache statistics.
type TableCount struct {
	Table string
	Rows  int64
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	Tables   []TableCount
	OldestTS string
	NewestTS string
}

// EmbeddingCache is the persisted embedding store.
type EmbeddingCache interface {
	// Get returns the entry or nil on miss.
	Get(ctx context.Context, conversationID, textHash string) (*CachedEmbedding, error)
	// GetBatch resolves many keys at once; misses are absent from the map.
	GetBatch(ctx context.Context, keys []EmbeddingKey) (map[string]*CachedEmbedding, error)
	Set(ctx context.Context, entry *CachedEmbedding) error
	// SetBatch writes all entries inside a single transaction.
	SetBatch(ctx context.Context, entries []*CachedEmbedding) error
	// Clear removes entries for one conversation, or everything when
	// conversationID is empty.
	Clear(ctx context.Context, conversationID string) error
}

// Store is the cache consumed by the fetcher. All writes are idempotent
// by natural key.
type Store interface {
	CachedMessages(ctx context.Context, channelID string, oldest, latest float64) ([]slack.Message, error)
	CacheMessages(ctx context.Context, channelID string, msgs []slack.Message) error

	CachedMentions(ctx context.Context, userID string, oldest, latest float64) ([]slack.Message, error)
	CacheMentions(ctx context.Context, userID string, msgs []slack.Message) error

	CachedReactions(ctx context.Context, userID string, oldest, latest float64) ([]slack.ReactedItem, error)
	CacheReactions(ctx context.Context, userID string, items []slack.ReactedItem) error

	CachedChannels(ctx context.Context) ([]slack.Channel, error)
	CacheChannels(ctx context.Context, channels []slack.Channel) error

	IsDayFetched(ctx context.Context, userID, scope, day, kind string) (bool, error)
	MarkDayFetched(ctx context.Context, userID, scope, day, kind string) error

	Embeddings() EmbeddingCache

	Stats(ctx context.Context) (*CacheStats, error)
	Close() error
}

// Factory builds a Store for a database path. Wired to the SQLite driver
// by the caller; indirection keeps this package free of driver imports.
type Factory func(path string) (Store, error)

var (
	singletonMu   sync.Mutex
	singleton     Store
	singletonPath string
)

// Shared returns the process-wide store for path, constructing it on
// first use. The ":memory:" sentinel always constructs a fresh instance
// so tests never share state.
func Shared(path string, factory Factory) (Store, error) {
	if path == ":memory:" {
		return factory(path)
	}

	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil && singletonPath == path {
		return singleton, nil
	}
	s, err := factory(path)
	if err != nil {
		return nil, err
	}
	singleton = s
	singletonPath = path
	return s, nil
}

// Reset drops the memoized store. For tests and shutdown hooks.
func Reset() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = nil
	singletonPath = ""
}
