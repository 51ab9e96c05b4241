package slack

import "context"

// SearchMessage is a full-text search hit. ThreadTS is recovered from the
// permalink's thread_ts query parameter when present, which lets the
// fetcher discover threads whose parents predate the window.
type SearchMessage struct {
	ChannelID   string
	ChannelName string
	User        string
	TS          string
	Text        string
	Permalink   string
	ThreadTS    string
}

// ReactedItem is one entry from the user's reactions listing.
type ReactedItem struct {
	ChannelID string
	Message   *Message
}

// API is the typed platform surface consumed by the pipeline. The wire
// format behind it is out of scope; the production implementation lives
// in adapter.go and test doubles implement it directly.
type API interface {
	// AuthTest resolves the authenticated user id and team domain.
	AuthTest(ctx context.Context) (userID, teamDomain string, err error)

	// SearchMessages runs a full-text query. Pages are 1-based; the
	// returned page count bounds the iteration.
	SearchMessages(ctx context.Context, query string, page int) (matches []SearchMessage, pages int, err error)

	// ConversationHistory pages through a channel's main message stream
	// between oldest and latest (ts strings, inclusive bounds).
	ConversationHistory(ctx context.Context, channelID, oldest, latest, cursor string) (msgs []Message, nextCursor string, err error)

	// ConversationReplies pages through a thread's replies, parent first.
	ConversationReplies(ctx context.Context, channelID, threadTS, cursor string) (msgs []Message, nextCursor string, err error)

	// UserChannels pages through all conversations the user is a member of.
	UserChannels(ctx context.Context, userID, cursor string) (channels []Channel, nextCursor string, err error)

	// ChannelInfo resolves a single channel, including membership for
	// group DMs.
	ChannelInfo(ctx context.Context, channelID string) (Channel, error)

	// UserDisplayName resolves one user's display name.
	UserDisplayName(ctx context.Context, userID string) (string, error)

	// ListUsers returns the workspace-wide id-to-display-name map.
	ListUsers(ctx context.Context) (map[string]string, error)

	// ReactionsList pages through items the user reacted to. Pages are
	// 1-based; the returned page count bounds the iteration.
	ReactionsList(ctx context.Context, userID string, page int) (items []ReactedItem, pages int, err error)

	// Permalink fetches the canonical URL for a message.
	Permalink(ctx context.Context, channelID, ts string) (string, error)
}
