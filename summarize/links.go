package summarize

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/worklog-sh/worklog/consolidate"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/slack"
)

// linkFetchConcurrency bounds parallel permalink and linked-message
// lookups within one channel.
const linkFetchConcurrency = 4

// LinkEnricher resolves group permalinks and fills in attachment content
// for messages that link to other messages without an unfurl.
type LinkEnricher struct {
	api        slack.API
	teamDomain string

	mu      sync.Mutex
	fetched map[string]*slack.Message
}

// NewLinkEnricher builds an enricher. teamDomain feeds the channel-URL
// fallback when permalink resolution fails.
func NewLinkEnricher(api slack.API, teamDomain string) *LinkEnricher {
	return &LinkEnricher{
		api:        api,
		teamDomain: teamDomain,
		fetched:    map[string]*slack.Message{},
	}
}

// Permalinks resolves the canonical URL of each group's first message,
// in parallel. Failures degrade to the channel URL.
func (e *LinkEnricher) Permalinks(ctx context.Context, groups []*consolidate.Group) []string {
	links := make([]string, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(linkFetchConcurrency)
	for i := range groups {
		i := i
		g.Go(func() error {
			grp := groups[i]
			if len(grp.AllMessages) == 0 {
				return nil
			}
			first := grp.AllMessages[0]
			link, err := e.api.Permalink(gctx, first.ChannelID, first.TS)
			if err != nil || link == "" {
				logging.Debug("permalink lookup failed, using channel URL", "channel", first.ChannelID)
				link = slack.ChannelURL(e.teamDomain, first.ChannelID)
			}
			links[i] = link
			return nil
		})
	}
	_ = g.Wait()
	return links
}

// SynthesizeAttachments fetches messages referenced by in-text permalinks
// when the platform did not unfurl them, attaching the linked content so
// the summarizer sees what was shared. Fetches are cached per run.
func (e *LinkEnricher) SynthesizeAttachments(ctx context.Context, groups []*consolidate.Group) {
	for _, grp := range groups {
		for i := range grp.AllMessages {
			m := &grp.AllMessages[i]
			if len(m.Attachments) > 0 {
				continue
			}
			for _, link := range slack.ParseMessageLinks(m.Text) {
				linked := e.fetchLinked(ctx, link)
				if linked == nil || linked.Text == "" {
					continue
				}
				m.Attachments = append(m.Attachments, slack.Attachment{
					Text:      linked.Text,
					AuthorID:  linked.User,
					ChannelID: link.ChannelID,
					TS:        link.TS,
				})
			}
		}
	}
}

func (e *LinkEnricher) fetchLinked(ctx context.Context, link slack.MessageLink) *slack.Message {
	key := link.ChannelID + ":" + link.TS
	e.mu.Lock()
	if m, ok := e.fetched[key]; ok {
		e.mu.Unlock()
		return m
	}
	e.mu.Unlock()

	var found *slack.Message
	if link.ThreadTS != "" && link.ThreadTS != link.TS {
		msgs, _, err := e.api.ConversationReplies(ctx, link.ChannelID, link.ThreadTS, "")
		if err == nil {
			for i := range msgs {
				if msgs[i].TS == link.TS {
					found = &msgs[i]
					break
				}
			}
		}
	} else {
		msgs, _, err := e.api.ConversationHistory(ctx, link.ChannelID, link.TS, link.TS, "")
		if err == nil && len(msgs) > 0 {
			found = &msgs[0]
		}
	}
	if found == nil {
		logging.Debug("linked message fetch failed", "channel", link.ChannelID, "ts", link.TS)
	}

	// Misses are cached too; a dead link stays dead for the whole run.
	e.mu.Lock()
	e.fetched[key] = found
	e.mu.Unlock()
	return found
}
