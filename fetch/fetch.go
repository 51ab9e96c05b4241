// Package fetch pulls a user's activity window from the chat platform
// into the local cache: channel discovery, per-channel history with
// day-bucket watermarks, thread replies, mentions, and reactions.
package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/segment"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
)

// contextLookback extends history fetches before the requested range so
// segment enrichment has prior messages to draw on.
const contextLookback = 24 * time.Hour

// ChannelActivity is everything fetched for one channel.
type ChannelActivity struct {
	Channel slack.Channel
	// Messages is the main-stream slice within the requested range.
	Messages []slack.Message
	// AllMessages is the full stream over the extended range, used for
	// context enrichment.
	AllMessages []slack.Message
	// Threads are the user's threads with their in-range replies.
	Threads []segment.Thread
	// MessagesSent counts the user's own messages within the requested
	// range, thread replies included.
	MessagesSent int
}

// UserActivityData is the fetch result for one run.
type UserActivityData struct {
	UserID     string
	TeamDomain string
	Range      timespan.Range
	Channels   map[string]*ChannelActivity
	Mentions   []slack.Message
	Reactions  []slack.ReactedItem
}

// ProgressFunc receives coarse progress events. current/total refer to
// channels within the stage; stages with no channel granularity report
// 0/0.
type ProgressFunc func(stage string, current, total int)

// Fetcher drives the platform API against the cache.
type Fetcher struct {
	api         slack.API
	store       store.Store
	tz          *time.Location
	concurrency int
	skipCache   bool
	now         func() time.Time
	progress    ProgressFunc
}

// Options tunes a Fetcher.
type Options struct {
	Concurrency int // parallel channel fetches, default 10
	Timezone    *time.Location
	// SkipCache refetches every day bucket, ignoring watermarks. The
	// refreshed data still lands in the cache.
	SkipCache bool
	Progress  ProgressFunc
	Now       func() time.Time // test hook
}

// New builds a Fetcher.
func New(api slack.API, st store.Store, opts Options) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.Timezone == nil {
		opts.Timezone = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Progress == nil {
		opts.Progress = func(string, int, int) {}
	}
	return &Fetcher{
		api:         api,
		store:       st,
		tz:          opts.Timezone,
		concurrency: opts.Concurrency,
		skipCache:   opts.SkipCache,
		now:         opts.Now,
		progress:    opts.Progress,
	}
}

// FetchUserActivity runs all fetch phases for the range. A channel that
// fails is dropped with a warning; only cross-cutting failures abort the
// run.
func (f *Fetcher) FetchUserActivity(ctx context.Context, userID, teamDomain string, r timespan.Range) (*UserActivityData, error) {
	data := &UserActivityData{
		UserID:     userID,
		TeamDomain: teamDomain,
		Range:      r,
		Channels:   map[string]*ChannelActivity{},
	}

	f.progress("discovering", 0, 0)
	channels, threadSeeds, err := f.discoverChannels(ctx, userID, r)
	if err != nil {
		return nil, err
	}

	extended := r.ExtendEarlier(contextLookback)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(f.concurrency))
	g, gctx := errgroup.WithContext(ctx)
	total := len(channels)
	done := 0
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			activity, err := f.fetchChannel(gctx, userID, ch, r, extended, threadSeeds[ch.ID])
			mu.Lock()
			defer mu.Unlock()
			done++
			f.progress("fetching", done, total)
			if err != nil {
				logging.Warn("channel fetch failed, skipping", "channel", ch.ID, "error", err.Error())
				return nil
			}
			if activity != nil {
				data.Channels[ch.ID] = activity
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f.progress("mentions", 0, 0)
	mentions, err := f.fetchMentions(ctx, userID, r)
	if err != nil {
		logging.Warn("mention fetch failed, continuing without mentions", "error", err.Error())
	} else {
		data.Mentions = mentions
	}

	f.progress("reactions", 0, 0)
	reactions, err := f.fetchReactions(ctx, userID, r)
	if err != nil {
		logging.Warn("reaction fetch failed, continuing without reactions", "error", err.Error())
	} else {
		data.Reactions = reactions
	}

	return data, nil
}

// completeDay reports whether the bucket lies entirely in the past, and
// its cached contents can therefore never change.
func (f *Fetcher) completeDay(day string) bool {
	return day < timespan.DayBucket(float64(f.now().Unix()), f.tz)
}

// dayFetched consults the watermark unless the run skips the cache, in
// which case every bucket is refetched.
func (f *Fetcher) dayFetched(ctx context.Context, userID, scope, day, kind string) (bool, error) {
	if f.skipCache {
		return false, nil
	}
	return f.store.IsDayFetched(ctx, userID, scope, day, kind)
}
