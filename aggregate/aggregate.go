// Package aggregate orchestrates a full run: fetch the activity window,
// segment and consolidate each channel, summarize the groups, and
// assemble the final report.
package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/worklog-sh/worklog/consolidate"
	"github.com/worklog-sh/worklog/embed"
	"github.com/worklog-sh/worklog/fetch"
	"github.com/worklog-sh/worklog/internal/config"
	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/llm"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/segment"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store"
	"github.com/worklog-sh/worklog/summarize"
)

// Progress is one coarse progress event for interactive display.
type Progress struct {
	Stage   string // fetching, segmenting, consolidating, summarizing, complete
	Current int
	Total   int
	Channel string
}

// ProgressFunc receives progress events; may be nil.
type ProgressFunc func(Progress)

// Aggregator wires the pipeline stages together for one process.
type Aggregator struct {
	// SkipCache refetches every day bucket, ignoring watermarks. Set
	// before Run.
	SkipCache bool

	cfg      *config.Config
	api      slack.API
	store    store.Store
	backend  llm.Backend
	progress ProgressFunc
	now      func() time.Time
}

// New builds an Aggregator. progress may be nil.
func New(cfg *config.Config, api slack.API, st store.Store, backend llm.Backend, progress ProgressFunc) *Aggregator {
	if progress == nil {
		progress = func(Progress) {}
	}
	return &Aggregator{
		cfg:      cfg,
		api:      api,
		store:    st,
		backend:  backend,
		progress: progress,
		now:      time.Now,
	}
}

// Run executes the pipeline for a timespan token and returns the report.
func (a *Aggregator) Run(ctx context.Context, timespanToken string) (*Report, error) {
	loc, err := time.LoadLocation(a.cfg.Settings.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid timezone %q", a.cfg.Settings.Timezone)
	}
	r, err := timespan.Parse(timespanToken, loc, a.now())
	if err != nil {
		return nil, err
	}

	userID, teamDomain, err := a.api.AuthTest(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "authentication check failed")
	}
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user":     userID,
		"timespan": timespanToken,
	})
	log.Info("starting run")
	ctx = logging.ToContext(ctx, log)

	a.progress(Progress{Stage: "fetching"})
	fetcher := fetch.New(a.api, a.store, fetch.Options{
		Concurrency: a.cfg.Slack.Concurrency,
		Timezone:    loc,
		SkipCache:   a.SkipCache,
		Progress: func(stage string, current, total int) {
			a.progress(Progress{Stage: "fetching", Current: current, Total: total})
		},
	})
	data, err := fetcher.FetchUserActivity(ctx, userID, teamDomain, r)
	if err != nil {
		return nil, err
	}

	names := summarize.NewNameResolver(a.api)
	userNames, err := a.api.ListUsers(ctx)
	if err != nil {
		log.Warn("bulk user listing failed, names resolve lazily", "error", err.Error())
		userNames = map[string]string{}
	}
	names.Prime(userNames)

	var embedProvider embed.Provider
	if a.cfg.Embeddings.Enabled {
		embedProvider = embed.NewOpenAIProvider(a.cfg.Embeddings.APIKey, a.cfg.Embeddings.Model)
	}
	scorer := embed.HybridScorer{
		Enabled:         a.cfg.Embeddings.Enabled,
		ReferenceWeight: a.cfg.Embeddings.ReferenceWeight,
		EmbeddingWeight: a.cfg.Embeddings.EmbeddingWeight,
	}

	claudeSem := semaphore.NewWeighted(int64(max(a.cfg.Anthropic.Concurrency, 1)))
	summarizer := summarize.New(a.backend, a.cfg.Anthropic.Model, names, userID, loc, claudeSem)
	enricher := summarize.NewLinkEnricher(a.api, teamDomain)

	mentionsByChannel := map[string]int{}
	for i := range data.Mentions {
		mentionsByChannel[data.Mentions[i].ChannelID]++
	}
	reactionsByChannel := map[string]int{}
	for i := range data.Reactions {
		reactionsByChannel[data.Reactions[i].ChannelID]++
	}

	var (
		mu       sync.Mutex
		channels []ChannelReport
		stats    consolidate.Stats
		done     int
	)
	total := len(data.Channels)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Performance.ChannelConcurrency, 1))
	for id := range data.Channels {
		activity := data.Channels[id]
		g.Go(func() error {
			report, chStats, err := a.runChannel(gctx, userID, userNames, activity, embedProvider, scorer, summarizer, enricher, loc)
			mu.Lock()
			defer mu.Unlock()
			done++
			a.progress(Progress{Stage: "summarizing", Current: done, Total: total, Channel: activity.Channel.ID})
			if err != nil {
				logging.FromContext(gctx).WithField("channel", activity.Channel.ID).
					Warn("channel pipeline failed, skipping", "error", err.Error())
				return nil
			}
			if report != nil {
				report.Mentions = mentionsByChannel[activity.Channel.ID]
				report.Reactions = reactionsByChannel[activity.Channel.ID]
				channels = append(channels, *report)
				stats.AdjacentMerges += chStats.AdjacentMerges
				stats.ProximityMerges += chStats.ProximityMerges
				stats.SameAuthorMerges += chStats.SameAuthorMerges
				stats.ReferenceMerges += chStats.ReferenceMerges
				stats.BotsMerged += chStats.BotsMerged
				stats.TrivialsMerged += chStats.TrivialsMerged
				stats.TrivialsDropped += chStats.TrivialsDropped
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := a.assembleReport(ctx, timespanToken, r, data, names, userID, channels, stats, loc)
	a.progress(Progress{Stage: "complete"})
	return report, nil
}

// runChannel executes segment, consolidate, and summarize for one
// channel. Returns nil when nothing summarizable remains.
func (a *Aggregator) runChannel(
	ctx context.Context,
	userID string,
	userNames map[string]string,
	activity *fetch.ChannelActivity,
	embedProvider embed.Provider,
	scorer embed.HybridScorer,
	summarizer *summarize.Summarizer,
	enricher *summarize.LinkEnricher,
	loc *time.Location,
) (*ChannelReport, consolidate.Stats, error) {
	ch := activity.Channel
	channelName := ch.DisplayName(userID, userNames)

	a.progress(Progress{Stage: "segmenting", Channel: ch.ID})
	convs := segment.Split(ctx, ch.ID, channelName, activity.Messages, activity.Threads, activity.AllMessages, segment.Options{
		RequestingUser: userID,
		Timezone:       loc,
	})
	if len(convs) == 0 {
		return nil, consolidate.Stats{}, nil
	}

	var embeddings map[string]embed.Result
	if embedProvider != nil {
		ptrs := make([]*segment.Conversation, len(convs))
		for i := range convs {
			ptrs[i] = &convs[i]
		}
		embeddings = embed.PrepareConversationEmbeddings(ctx, a.store.Embeddings(), embedProvider, ptrs)
	}

	a.progress(Progress{Stage: "consolidating", Channel: ch.ID})
	groups, stats := consolidate.Consolidate(ctx, convs, embeddings, consolidate.Options{
		RequestingUser: userID,
		Trivial:        consolidate.TrivialOptions{DropOrphans: true},
		Scorer:         scorer,
	})
	if len(groups) == 0 {
		return nil, stats, nil
	}

	groupPtrs := make([]*consolidate.Group, len(groups))
	for i := range groups {
		groupPtrs[i] = &groups[i]
	}
	enricher.SynthesizeAttachments(ctx, groupPtrs)
	links := enricher.Permalinks(ctx, groupPtrs)

	summaries := summarizer.SummarizeGroups(ctx, channelName, groupPtrs)
	for i := range summaries {
		if i < len(links) {
			summaries[i].SlackLink = links[i]
		}
	}

	return &ChannelReport{
		ChannelID:    ch.ID,
		ChannelName:  channelName,
		Kind:         ch.Kind,
		MessagesSent: activity.MessagesSent,
		Summaries:    summaries,
	}, stats, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
