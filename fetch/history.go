package fetch

import (
	"context"

	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/segment"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

// fetchChannel populates one channel's activity: watermark-guarded
// history over the extended range, then thread replies for the user's
// threads. Returns nil when the channel has no in-range activity.
func (f *Fetcher) fetchChannel(ctx context.Context, userID string, ch slack.Channel, r, extended timespan.Range, threadSeeds []string) (*ChannelActivity, error) {
	if err := f.ensureHistory(ctx, userID, ch.ID, extended); err != nil {
		return nil, err
	}

	all, err := f.store.CachedMessages(ctx, ch.ID, extended.StartTS(), extended.EndTS())
	if err != nil {
		return nil, err
	}
	slack.SortMessages(all)

	activity := &ChannelActivity{Channel: ch, AllMessages: all}
	threadSet := map[string]bool{}
	for _, ts := range threadSeeds {
		threadSet[ts] = true
	}
	for i := range all {
		m := &all[i]
		inRange := r.Contains(m.Time())
		if inRange && !m.IsThreadReply() {
			activity.Messages = append(activity.Messages, *m)
		}
		if inRange && m.User == userID {
			activity.MessagesSent++
		}
		// Only the user's threads are fetched: ones they started, plus
		// any their stream messages reply into. Other people's threads
		// are not the user's activity.
		if m.User == userID && m.ThreadTS != "" {
			threadSet[m.ThreadTS] = true
		}
	}

	for parentTS := range threadSet {
		th, err := f.fetchThread(ctx, ch.ID, parentTS, r)
		if err != nil {
			logging.Warn("thread fetch failed, skipping thread", "channel", ch.ID, "thread", parentTS, "error", err.Error())
			continue
		}
		if th != nil {
			activity.Threads = append(activity.Threads, *th)
			for i := range th.Messages {
				if r.Contains(th.Messages[i].Time()) && th.Messages[i].User == userID && th.Messages[i].IsThreadReply() {
					activity.MessagesSent++
				}
			}
		}
	}

	// Channels where the user neither sent a message nor took part in a
	// thread are not their activity, even when others were talking.
	if activity.MessagesSent == 0 && !userInThreads(activity.Threads, userID) {
		return nil, nil
	}
	return activity, nil
}

func userInThreads(threads []segment.Thread, userID string) bool {
	for i := range threads {
		for _, m := range threads[i].Messages {
			if m.User == userID {
				return true
			}
		}
	}
	return false
}

// ensureHistory fetches any uncached day buckets of the range. Only
// fully elapsed days are marked fetched; the current day is re-fetched
// on every run.
func (f *Fetcher) ensureHistory(ctx context.Context, userID, channelID string, r timespan.Range) error {
	for _, day := range timespan.Days(r, f.tz) {
		fetched, err := f.dayFetched(ctx, userID, channelID, day, store.KindMessages)
		if err != nil {
			return err
		}
		if fetched {
			continue
		}

		bounds, err := timespan.DayBounds(day, f.tz)
		if err != nil {
			return err
		}
		msgs, err := f.pageHistory(ctx, channelID, bounds)
		if err != nil {
			return err
		}
		if len(msgs) > 0 {
			if err := f.store.CacheMessages(ctx, channelID, msgs); err != nil {
				return err
			}
		}
		if f.completeDay(day) {
			if err := f.store.MarkDayFetched(ctx, userID, channelID, day, store.KindMessages); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Fetcher) pageHistory(ctx context.Context, channelID string, bounds timespan.Range) ([]slack.Message, error) {
	var out []slack.Message
	cursor := ""
	for {
		msgs, next, err := f.api.ConversationHistory(ctx, channelID, bounds.Oldest(), bounds.Latest(), cursor)
		if err != nil {
			return nil, err
		}
		for i := range msgs {
			msgs[i].ChannelID = channelID
		}
		out = append(out, msgs...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// fetchThread pulls a thread's replies fresh on every run; thread tails
// move too often to watermark. The parent is kept regardless of range,
// replies are filtered to it. Threads with no in-range replies are
// dropped.
func (f *Fetcher) fetchThread(ctx context.Context, channelID, parentTS string, r timespan.Range) (*segment.Thread, error) {
	var msgs []slack.Message
	cursor := ""
	for {
		page, next, err := f.api.ConversationReplies(ctx, channelID, parentTS, cursor)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	th := &segment.Thread{ChannelID: channelID, ParentTS: parentTS}
	inRange := 0
	for i := range msgs {
		msgs[i].ChannelID = channelID
		isParent := msgs[i].TS == parentTS
		if !isParent && !r.Contains(msgs[i].Time()) {
			continue
		}
		if !isParent {
			inRange++
		}
		th.Messages = append(th.Messages, msgs[i])
	}
	if inRange == 0 {
		return nil, nil
	}
	return th, nil
}
