package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

func testDB(t *testing.T) store.Store {
	t.Helper()
	db, err := NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(channel, ts, user, text string) slack.Message {
	return slack.Message{TS: ts, ChannelID: channel, User: user, Text: text, Type: "message"}
}

func TestMessagesRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	msgs := []slack.Message{
		msg("C1", "1700000100.000001", "U1", "first"),
		msg("C1", "1700000200.000002", "U2", "second"),
		msg("C1", "1700000300.000003", "U1", "third"),
	}
	require.NoError(t, db.CacheMessages(ctx, "C1", msgs))

	t.Run("range query is inclusive and ordered", func(t *testing.T) {
		got, err := db.CachedMessages(ctx, "C1", 1700000100, 1700000250)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "first", got[0].Text)
		assert.Equal(t, "second", got[1].Text)
	})

	t.Run("other channels are invisible", func(t *testing.T) {
		got, err := db.CachedMessages(ctx, "C2", 0, 2000000000)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("re-caching updates the payload", func(t *testing.T) {
		edited := msgs[0]
		edited.Text = "first (edited)"
		require.NoError(t, db.CacheMessages(ctx, "C1", []slack.Message{edited}))

		got, err := db.CachedMessages(ctx, "C1", 1700000100, 1700000100)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "first (edited)", got[0].Text)
	})
}

func TestMessagePayloadPreservesStructure(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	original := msg("C1", "1700000100.000001", "U1", "with extras")
	original.ThreadTS = "1700000000.000001"
	original.Subtype = "bot_message"
	original.Attachments = []slack.Attachment{{Text: "unfurl", AuthorName: "carol"}}

	require.NoError(t, db.CacheMessages(ctx, "C1", []slack.Message{original}))
	got, err := db.CachedMessages(ctx, "C1", 0, 2000000000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, original, got[0])
}

func TestMentionsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.CacheMentions(ctx, "U1", []slack.Message{
		msg("C1", "1700000100.000001", "U2", "<@U1> ping"),
		msg("C2", "1700000200.000002", "U3", "<@U1> other channel"),
	}))

	got, err := db.CachedMentions(ctx, "U1", 0, 2000000000)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	other, err := db.CachedMentions(ctx, "U9", 0, 2000000000)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestReactionsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	m1 := msg("C1", "1700000100.000001", "U2", "nice work")
	require.NoError(t, db.CacheReactions(ctx, "U1", []slack.ReactedItem{
		{ChannelID: "C1", Message: &m1},
	}))

	got, err := db.CachedReactions(ctx, "U1", 0, 2000000000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "C1", got[0].ChannelID)
	require.NotNil(t, got[0].Message)
	assert.Equal(t, "nice work", got[0].Message.Text)
}

func TestChannelsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.CacheChannels(ctx, []slack.Channel{
		{ID: "C1", Name: "eng", Kind: slack.ChannelPublic},
		{ID: "D1", Kind: slack.ChannelDM, PeerUser: "U2"},
	}))

	got, err := db.CachedChannels(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]slack.Channel{}
	for _, ch := range got {
		byID[ch.ID] = ch
	}
	assert.Equal(t, "eng", byID["C1"].Name)
	assert.Equal(t, "U2", byID["D1"].PeerUser)
}

func TestWatermarks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	fetched, err := db.IsDayFetched(ctx, "U1", "C1", "2026-08-10", store.KindMessages)
	require.NoError(t, err)
	assert.False(t, fetched)

	require.NoError(t, db.MarkDayFetched(ctx, "U1", "C1", "2026-08-10", store.KindMessages))
	// Idempotent.
	require.NoError(t, db.MarkDayFetched(ctx, "U1", "C1", "2026-08-10", store.KindMessages))

	fetched, err = db.IsDayFetched(ctx, "U1", "C1", "2026-08-10", store.KindMessages)
	require.NoError(t, err)
	assert.True(t, fetched)

	// Watermarks are scoped per kind and per scope.
	fetched, err = db.IsDayFetched(ctx, "U1", "C1", "2026-08-10", store.KindMentions)
	require.NoError(t, err)
	assert.False(t, fetched)

	fetched, err = db.IsDayFetched(ctx, "U1", "C2", "2026-08-10", store.KindMessages)
	require.NoError(t, err)
	assert.False(t, fetched)
}

func TestEmbeddingCache(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	cache := db.Embeddings()

	entry := &store.CachedEmbedding{
		ConversationID: "conv1",
		TextHash:       "hash1",
		Model:          "text-embedding-3-small",
		Dimensions:     4,
		Embedding:      []float32{0.1, -0.25, 3.5, 0},
		CreatedAt:      1700000000,
	}

	t.Run("miss returns nil without error", func(t *testing.T) {
		got, err := cache.Get(ctx, "conv1", "hash1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("round trip preserves the vector", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, entry))
		got, err := cache.Get(ctx, "conv1", "hash1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got.Embedding, 4)
		for i := range entry.Embedding {
			assert.InDelta(t, entry.Embedding[i], got.Embedding[i], 1e-6)
		}
		assert.Equal(t, entry.Model, got.Model)
		assert.Equal(t, entry.Dimensions, got.Dimensions)
	})

	t.Run("text hash change is a miss", func(t *testing.T) {
		got, err := cache.Get(ctx, "conv1", "otherhash")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("batch lookup maps by conversation id", func(t *testing.T) {
		require.NoError(t, cache.SetBatch(ctx, []*store.CachedEmbedding{
			{ConversationID: "conv2", TextHash: "h2", Model: "m", Dimensions: 1, Embedding: []float32{1}},
			{ConversationID: "conv3", TextHash: "h3", Model: "m", Dimensions: 1, Embedding: []float32{2}},
		}))

		got, err := cache.GetBatch(ctx, []store.EmbeddingKey{
			{ConversationID: "conv2", TextHash: "h2"},
			{ConversationID: "conv3", TextHash: "wrong"},
		})
		require.NoError(t, err)
		assert.Contains(t, got, "conv2")
		assert.NotContains(t, got, "conv3")
	})

	t.Run("clear by conversation", func(t *testing.T) {
		require.NoError(t, cache.Clear(ctx, "conv2"))
		got, err := cache.Get(ctx, "conv2", "h2")
		require.NoError(t, err)
		assert.Nil(t, got)

		still, err := cache.Get(ctx, "conv1", "hash1")
		require.NoError(t, err)
		assert.NotNil(t, still)
	})

	t.Run("clear all", func(t *testing.T) {
		require.NoError(t, cache.Clear(ctx, ""))
		got, err := cache.Get(ctx, "conv1", "hash1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStats(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.CacheMessages(ctx, "C1", []slack.Message{
		msg("C1", "1700000100.000001", "U1", "a"),
		msg("C1", "1700000200.000002", "U1", "b"),
	}))

	stats, err := db.Stats(ctx)
	require.NoError(t, err)

	counts := map[string]int64{}
	for _, tc := range stats.Tables {
		counts[tc.Table] = tc.Rows
	}
	assert.Equal(t, int64(2), counts["messages"])
	assert.Equal(t, int64(0), counts["embeddings"])
	assert.Equal(t, "1700000100.000001", stats.OldestTS)
	assert.Equal(t, "1700000200.000002", stats.NewestTS)
}
