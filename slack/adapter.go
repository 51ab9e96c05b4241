package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"
)

// Client implements API over the slack-go Web API client, funneling every
// call through the shared Limiter so the token bucket covers all
// platform traffic regardless of which worker pool issued it.
type Client struct {
	api     *slackapi.Client
	limiter *Limiter
}

// NewClient builds the production client.
func NewClient(token string, limiter *Limiter) *Client {
	return &Client{
		api:     slackapi.New(token),
		limiter: limiter,
	}
}

// execute wraps an RPC with the limiter and translates platform errors
// into the limiter's error classes.
func (c *Client) execute(ctx context.Context, fn func() error) error {
	return c.limiter.Execute(ctx, func() error {
		return translateError(fn())
	})
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return &RateLimitError{RetryAfter: rle.RetryAfter}
	}
	msg := err.Error()
	for _, fatal := range []string{
		"invalid_auth", "not_authed", "account_inactive", "token_revoked",
		"channel_not_found", "thread_not_found", "message_not_found",
		"user_not_found", "missing_scope", "not_in_channel",
	} {
		if strings.Contains(msg, fatal) {
			return &FatalError{Err: err}
		}
	}
	return err
}

func (c *Client) AuthTest(ctx context.Context) (string, string, error) {
	var resp *slackapi.AuthTestResponse
	err := c.execute(ctx, func() error {
		var err error
		resp, err = c.api.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("auth test failed: %w", err)
	}
	domain := resp.URL
	domain = strings.TrimPrefix(domain, "https://")
	if idx := strings.Index(domain, "."); idx > 0 {
		domain = domain[:idx]
	} else {
		domain = ""
	}
	return resp.UserID, domain, nil
}

func (c *Client) SearchMessages(ctx context.Context, query string, page int) ([]SearchMessage, int, error) {
	params := slackapi.NewSearchParameters()
	params.Page = page
	params.Count = 100
	params.Sort = "timestamp"
	params.SortDirection = "asc"

	var result *slackapi.SearchMessages
	err := c.execute(ctx, func() error {
		var err error
		result, err = c.api.SearchMessagesContext(ctx, query, params)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("search failed: %w", err)
	}

	matches := make([]SearchMessage, 0, len(result.Matches))
	for _, m := range result.Matches {
		sm := SearchMessage{
			ChannelID:   m.Channel.ID,
			ChannelName: m.Channel.Name,
			User:        m.User,
			TS:          m.Timestamp,
			Text:        m.Text,
			Permalink:   m.Permalink,
		}
		// Search hits don't expose thread parentage directly; the
		// permalink carries it as thread_ts.
		for _, link := range ParseMessageLinks(m.Permalink) {
			if link.ThreadTS != "" {
				sm.ThreadTS = link.ThreadTS
			}
		}
		matches = append(matches, sm)
	}
	return matches, result.Paging.Pages, nil
}

func (c *Client) ConversationHistory(ctx context.Context, channelID, oldest, latest, cursor string) ([]Message, string, error) {
	params := &slackapi.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    oldest,
		Latest:    latest,
		Cursor:    cursor,
		Inclusive: true,
		Limit:     200,
	}
	var resp *slackapi.GetConversationHistoryResponse
	err := c.execute(ctx, func() error {
		var err error
		resp, err = c.api.GetConversationHistoryContext(ctx, params)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("history fetch failed for %s: %w", channelID, err)
	}

	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, fromAPIMessage(channelID, m))
	}
	next := ""
	if resp.HasMore {
		next = resp.ResponseMetaData.NextCursor
	}
	return msgs, next, nil
}

func (c *Client) ConversationReplies(ctx context.Context, channelID, threadTS, cursor string) ([]Message, string, error) {
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Cursor:    cursor,
		Limit:     200,
	}
	var (
		raw     []slackapi.Message
		hasMore bool
		next    string
	)
	err := c.execute(ctx, func() error {
		var err error
		raw, hasMore, next, err = c.api.GetConversationRepliesContext(ctx, params)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("replies fetch failed for %s/%s: %w", channelID, threadTS, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, fromAPIMessage(channelID, m))
	}
	if !hasMore {
		next = ""
	}
	return msgs, next, nil
}

func (c *Client) UserChannels(ctx context.Context, userID, cursor string) ([]Channel, string, error) {
	params := &slackapi.GetConversationsForUserParameters{
		UserID: userID,
		Cursor: cursor,
		Types:  []string{"public_channel", "private_channel", "mpim", "im"},
		Limit:  200,
	}
	var (
		raw  []slackapi.Channel
		next string
	)
	err := c.execute(ctx, func() error {
		var err error
		raw, next, err = c.api.GetConversationsForUserContext(ctx, params)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("channel listing failed: %w", err)
	}

	channels := make([]Channel, 0, len(raw))
	for _, ch := range raw {
		channels = append(channels, fromAPIChannel(ch))
	}
	return channels, next, nil
}

func (c *Client) ChannelInfo(ctx context.Context, channelID string) (Channel, error) {
	var raw *slackapi.Channel
	err := c.execute(ctx, func() error {
		var err error
		raw, err = c.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{
			ChannelID: channelID,
		})
		return err
	})
	if err != nil {
		return Channel{}, fmt.Errorf("channel info failed for %s: %w", channelID, err)
	}

	ch := fromAPIChannel(*raw)
	if ch.Kind == ChannelGroupDM && len(ch.Members) == 0 {
		var members []string
		err := c.execute(ctx, func() error {
			var err error
			members, _, err = c.api.GetUsersInConversationContext(ctx, &slackapi.GetUsersInConversationParameters{
				ChannelID: channelID,
				Limit:     100,
			})
			return err
		})
		if err == nil {
			ch.Members = members
		}
	}
	return ch, nil
}

func (c *Client) UserDisplayName(ctx context.Context, userID string) (string, error) {
	var user *slackapi.User
	err := c.execute(ctx, func() error {
		var err error
		user, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("user info failed for %s: %w", userID, err)
	}
	return displayNameOf(user), nil
}

func (c *Client) ListUsers(ctx context.Context) (map[string]string, error) {
	var users []slackapi.User
	err := c.execute(ctx, func() error {
		var err error
		users, err = c.api.GetUsersContext(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("user listing failed: %w", err)
	}
	names := make(map[string]string, len(users))
	for i := range users {
		names[users[i].ID] = displayNameOf(&users[i])
	}
	return names, nil
}

func (c *Client) ReactionsList(ctx context.Context, userID string, page int) ([]ReactedItem, int, error) {
	params := slackapi.NewListReactionsParameters()
	params.User = userID
	params.Page = page
	params.Count = 100
	params.Full = true

	var (
		raw    []slackapi.ReactedItem
		paging *slackapi.Paging
	)
	err := c.execute(ctx, func() error {
		var err error
		raw, paging, err = c.api.ListReactionsContext(ctx, params)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("reactions listing failed: %w", err)
	}

	items := make([]ReactedItem, 0, len(raw))
	for _, item := range raw {
		if item.Message == nil {
			continue
		}
		msg := fromAPIMessage(item.Channel, *item.Message)
		items = append(items, ReactedItem{
			ChannelID: item.Channel,
			Message:   &msg,
		})
	}
	pages := 1
	if paging != nil && paging.Pages > 0 {
		pages = paging.Pages
	}
	return items, pages, nil
}

func (c *Client) Permalink(ctx context.Context, channelID, ts string) (string, error) {
	var link string
	err := c.execute(ctx, func() error {
		var err error
		link, err = c.api.GetPermalinkContext(ctx, &slackapi.PermalinkParameters{
			Channel: channelID,
			Ts:      ts,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("permalink fetch failed for %s/%s: %w", channelID, ts, err)
	}
	return link, nil
}

func fromAPIMessage(channelID string, m slackapi.Message) Message {
	msg := Message{
		TS:        m.Timestamp,
		ChannelID: channelID,
		User:      m.User,
		Text:      m.Text,
		Type:      m.Type,
		Subtype:   m.SubType,
		ThreadTS:  m.ThreadTimestamp,
	}
	if msg.Subtype == "" && m.BotID != "" && m.User == "" {
		msg.Subtype = SubtypeBot
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Text:       a.Text,
			Fallback:   a.Fallback,
			AuthorName: a.AuthorName,
		})
	}
	return msg
}

func fromAPIChannel(ch slackapi.Channel) Channel {
	out := Channel{
		ID:      ch.ID,
		Name:    ch.Name,
		Members: ch.Members,
	}
	switch {
	case ch.IsIM:
		out.Kind = ChannelDM
		out.PeerUser = ch.User
	case ch.IsMpIM:
		out.Kind = ChannelGroupDM
	case ch.IsPrivate:
		out.Kind = ChannelPrivate
	default:
		out.Kind = ChannelPublic
	}
	return out
}

func displayNameOf(u *slackapi.User) string {
	if u.Profile.DisplayName != "" {
		return u.Profile.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	return u.Name
}
