package fetch

import (
	"context"
	"fmt"

	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/slack"
)

// discoverChannels finds where the user was active in the range. The
// primary path searches the user's own messages, which also yields
// thread seeds for threads whose parents predate the range. When search
// is unavailable the fallback lists every channel the user is in.
func (f *Fetcher) discoverChannels(ctx context.Context, userID string, r timespan.Range) ([]slack.Channel, map[string][]string, error) {
	threadSeeds := map[string][]string{}
	channelIDs, err := f.searchActiveChannels(ctx, userID, r, threadSeeds)
	if err != nil {
		logging.Warn("activity search failed, falling back to full channel listing", "error", err.Error())
		channels, listErr := f.listMemberChannels(ctx, userID)
		if listErr != nil {
			return nil, nil, fmt.Errorf("channel discovery failed: %w", listErr)
		}
		return channels, threadSeeds, nil
	}

	channels, err := f.resolveChannels(ctx, channelIDs)
	if err != nil {
		return nil, nil, err
	}
	return channels, threadSeeds, nil
}

// searchActiveChannels collects the distinct channels of the user's
// search hits. Date qualifiers are exclusive, so they widen by one day
// on each side.
func (f *Fetcher) searchActiveChannels(ctx context.Context, userID string, r timespan.Range, threadSeeds map[string][]string) ([]string, error) {
	after := r.Start.In(f.tz).AddDate(0, 0, -1).Format("2006-01-02")
	before := r.End.In(f.tz).AddDate(0, 0, 1).Format("2006-01-02")
	query := fmt.Sprintf("from:<@%s> after:%s before:%s", userID, after, before)

	seen := map[string]bool{}
	var ids []string
	seededThreads := map[string]bool{}
	for page := 1; ; page++ {
		matches, pages, err := f.api.SearchMessages(ctx, query, page)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.ChannelID == "" {
				continue
			}
			if !seen[m.ChannelID] {
				seen[m.ChannelID] = true
				ids = append(ids, m.ChannelID)
			}
			if m.ThreadTS != "" && m.ThreadTS != m.TS {
				key := m.ChannelID + ":" + m.ThreadTS
				if !seededThreads[key] {
					seededThreads[key] = true
					threadSeeds[m.ChannelID] = append(threadSeeds[m.ChannelID], m.ThreadTS)
				}
			}
		}
		if page >= pages {
			break
		}
	}
	return ids, nil
}

// resolveChannels turns ids into Channel records, serving from the cache
// where possible and persisting fresh lookups.
func (f *Fetcher) resolveChannels(ctx context.Context, ids []string) ([]slack.Channel, error) {
	known := map[string]slack.Channel{}
	if cached, err := f.store.CachedChannels(ctx); err == nil {
		for _, ch := range cached {
			known[ch.ID] = ch
		}
	}

	var out []slack.Channel
	var fresh []slack.Channel
	for _, id := range ids {
		if ch, ok := known[id]; ok {
			out = append(out, ch)
			continue
		}
		ch, err := f.api.ChannelInfo(ctx, id)
		if err != nil {
			logging.Warn("channel info lookup failed, skipping channel", "channel", id, "error", err.Error())
			continue
		}
		out = append(out, ch)
		fresh = append(fresh, ch)
	}
	if len(fresh) > 0 {
		if err := f.store.CacheChannels(ctx, fresh); err != nil {
			logging.Warn("channel cache write failed", "error", err.Error())
		}
	}
	return out, nil
}

// listMemberChannels pages through every conversation the user belongs
// to.
func (f *Fetcher) listMemberChannels(ctx context.Context, userID string) ([]slack.Channel, error) {
	var out []slack.Channel
	cursor := ""
	for {
		channels, next, err := f.api.UserChannels(ctx, userID, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, channels...)
		if next == "" {
			break
		}
		cursor = next
	}
	if len(out) > 0 {
		if err := f.store.CacheChannels(ctx, out); err != nil {
			logging.Warn("channel cache write failed", "error", err.Error())
		}
	}
	return out, nil
}
