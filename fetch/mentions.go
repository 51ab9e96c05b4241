package fetch

import (
	"context"
	"fmt"

	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

// fetchMentions pulls messages mentioning the user, day-bucketed against
// the cache like channel history.
func (f *Fetcher) fetchMentions(ctx context.Context, userID string, r timespan.Range) ([]slack.Message, error) {
	for _, day := range timespan.Days(r, f.tz) {
		fetched, err := f.dayFetched(ctx, userID, store.GlobalScope, day, store.KindMentions)
		if err != nil {
			return nil, err
		}
		if fetched {
			continue
		}

		msgs, err := f.searchMentionsDay(ctx, userID, day)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			if err := f.store.CacheMentions(ctx, userID, msgs); err != nil {
				return nil, err
			}
		}
		if f.completeDay(day) {
			if err := f.store.MarkDayFetched(ctx, userID, store.GlobalScope, day, store.KindMentions); err != nil {
				return nil, err
			}
		}
	}
	return f.store.CachedMentions(ctx, userID, r.StartTS(), r.EndTS())
}

func (f *Fetcher) searchMentionsDay(ctx context.Context, userID, day string) ([]slack.Message, error) {
	bounds, err := timespan.DayBounds(day, f.tz)
	if err != nil {
		return nil, err
	}
	after := bounds.Start.AddDate(0, 0, -1).Format("2006-01-02")
	before := bounds.End.AddDate(0, 0, 1).Format("2006-01-02")
	query := fmt.Sprintf("<@%s> after:%s before:%s", userID, after, before)

	var out []slack.Message
	for page := 1; ; page++ {
		matches, pages, err := f.api.SearchMessages(ctx, query, page)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			// The search window is wider than the bucket; keep the bucket
			// tight so cached days never overlap.
			ts := slack.ParseTS(m.TS)
			if !bounds.Contains(ts) || m.User == userID {
				continue
			}
			out = append(out, slack.Message{
				TS:        m.TS,
				ChannelID: m.ChannelID,
				User:      m.User,
				Text:      m.Text,
				Type:      "message",
				ThreadTS:  m.ThreadTS,
			})
		}
		if page >= pages {
			return out, nil
		}
	}
}

// fetchReactions pulls the user's reaction activity. The listing API has
// no date filter, so one full listing covers every uncached day of the
// range at once.
func (f *Fetcher) fetchReactions(ctx context.Context, userID string, r timespan.Range) ([]slack.ReactedItem, error) {
	days := timespan.Days(r, f.tz)
	needFetch := false
	for _, day := range days {
		fetched, err := f.dayFetched(ctx, userID, store.GlobalScope, day, store.KindReactions)
		if err != nil {
			return nil, err
		}
		if !fetched {
			needFetch = true
			break
		}
	}

	if needFetch {
		var inRange []slack.ReactedItem
		for page := 1; ; page++ {
			items, pages, err := f.api.ReactionsList(ctx, userID, page)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if item.Message == nil {
					continue
				}
				if r.Contains(item.Message.Time()) {
					inRange = append(inRange, item)
				}
			}
			if page >= pages {
				break
			}
		}
		if len(inRange) > 0 {
			if err := f.store.CacheReactions(ctx, userID, inRange); err != nil {
				return nil, err
			}
		}
		for _, day := range days {
			if !f.completeDay(day) {
				continue
			}
			if err := f.store.MarkDayFetched(ctx, userID, store.GlobalScope, day, store.KindReactions); err != nil {
				return nil, err
			}
		}
	}
	return f.store.CachedReactions(ctx, userID, r.StartTS(), r.EndTS())
}
