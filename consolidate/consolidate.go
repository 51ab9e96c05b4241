// Package consolidate groups a channel's conversations into topics via
// a fixed merge cascade: bot absorption, trivial-message handling, then
// union-find over adjacency, proximity, authorship, and similarity.
package consolidate

import (
	"context"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/worklog-sh/worklog/embed"
	"github.com/worklog-sh/worklog/refs"
	"github.com/worklog-sh/worklog/segment"
	"github.com/worklog-sh/worklog/slack"
)

// Group is a topic: the set of conversations judged to cover the same
// subject. AllMessages is the ts-ordered union of the members' messages.
type Group struct {
	ID                      string
	Conversations           []*segment.Conversation
	SharedReferences        []string
	AllMessages             []slack.Message
	StartTime               string
	EndTime                 string
	Participants            []string
	TotalMessageCount       int
	TotalUserMessageCount   int
	HasThreads              bool
	OriginalConversationIDs []string
}

// Stats counts what each cascade stage did. Ancillary; the group set is
// authoritative.
type Stats struct {
	AdjacentMerges   int
	ProximityMerges  int
	SameAuthorMerges int
	ReferenceMerges  int
	BotsMerged       int
	TrivialsMerged   int
	TrivialsDropped  int
}

// TrivialOptions controls the trivial-merge stage.
type TrivialOptions struct {
	MaxMessages   int           // default 2
	MaxCharacters int           // default 100
	MergeWindow   time.Duration // default 30m
	DropOrphans   bool
}

// ProximityOptions controls the same-author small-gap merge.
type ProximityOptions struct {
	Window          time.Duration // default 90m
	MinSimilarity   float64       // default 0.20
	DMWindow        time.Duration // default 180m
	DMMinSimilarity float64       // default 0.05
}

// SameAuthorOptions controls the longer-window same-author merge.
type SameAuthorOptions struct {
	MaxGap        time.Duration // default 360m
	MinSimilarity float64       // default 0.20
}

// SimilarityOptions controls the any-participants similarity merge.
type SimilarityOptions struct {
	MaxGap    time.Duration // default 240m
	Threshold float64       // default 0.40
}

// Options tunes the cascade. Zero values take the documented defaults.
type Options struct {
	RequestingUser string
	BotMergeWindow time.Duration // default 30m
	AdjacentWindow time.Duration // default 15m
	Trivial        TrivialOptions
	Proximity      ProximityOptions
	SameAuthor     SameAuthorOptions
	Similarity     SimilarityOptions
	Scorer         embed.HybridScorer
}

func (o Options) withDefaults() Options {
	if o.BotMergeWindow <= 0 {
		o.BotMergeWindow = 30 * time.Minute
	}
	if o.AdjacentWindow <= 0 {
		o.AdjacentWindow = 15 * time.Minute
	}
	if o.Trivial.MaxMessages <= 0 {
		o.Trivial.MaxMessages = 2
	}
	if o.Trivial.MaxCharacters <= 0 {
		o.Trivial.MaxCharacters = 100
	}
	if o.Trivial.MergeWindow <= 0 {
		o.Trivial.MergeWindow = 30 * time.Minute
	}
	if o.Proximity.Window <= 0 {
		o.Proximity.Window = 90 * time.Minute
	}
	if o.Proximity.MinSimilarity <= 0 {
		o.Proximity.MinSimilarity = 0.20
	}
	if o.Proximity.DMWindow <= 0 {
		o.Proximity.DMWindow = 180 * time.Minute
	}
	if o.Proximity.DMMinSimilarity <= 0 {
		o.Proximity.DMMinSimilarity = 0.05
	}
	if o.SameAuthor.MaxGap <= 0 {
		o.SameAuthor.MaxGap = 360 * time.Minute
	}
	if o.SameAuthor.MinSimilarity <= 0 {
		o.SameAuthor.MinSimilarity = 0.20
	}
	if o.Similarity.MaxGap <= 0 {
		o.Similarity.MaxGap = 240 * time.Minute
	}
	if o.Similarity.Threshold <= 0 {
		o.Similarity.Threshold = 0.40
	}
	return o
}

// Work indicators promote an otherwise-trivial message to substantive.
var workIndicatorRe = regexp.MustCompile(`(?i)\b(confirm(?:ed)?|verified|tested|checked|fixed|done|completed?|approved|reviewed|resolved|merged|deployed|updated|shipped|launched|released)\b`)

// Consolidate runs the cascade over one channel's conversations.
// Embeddings may be nil when the embedding path is disabled.
func Consolidate(ctx context.Context, convs []segment.Conversation, embeddings map[string]embed.Result, opts Options) ([]Group, Stats) {
	opts = opts.withDefaults()
	stats := Stats{}

	working := make([]*segment.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		working[i] = &c
	}
	sortByStart(working)

	working = mergeBots(working, opts, &stats)
	working = mergeTrivials(working, opts, &stats)
	sortByStart(working)

	// Reference sets are extracted after the absorbing merges so merged
	// messages contribute their identifiers.
	refsByID := make(map[string]map[string]struct{}, len(working))
	sharedByID := make(map[string]map[string]struct{}, len(working))
	for _, c := range working {
		cr := refs.ExtractConversation(c.ID, c.Messages)
		refsByID[c.ID] = refs.ForSimilarity(cr)
		sharedByID[c.ID] = cr.UniqueValues
	}

	uf := newUnionFind(len(working))
	for i := 0; i < len(working); i++ {
		for j := i + 1; j < len(working); j++ {
			a, b := working[i], working[j]
			gap := gapMinutes(a, b)
			score := opts.Scorer.Score(refsByID[a.ID], refsByID[b.ID], embeddingOf(embeddings, a.ID), embeddingOf(embeddings, b.ID))
			sameAuthor := sameAuthorPair(a, b, opts.RequestingUser)

			switch {
			case gap <= opts.AdjacentWindow.Minutes():
				if uf.union(i, j) {
					stats.AdjacentMerges++
				}
			case sameAuthor && proximityMatch(a, b, gap, score, opts):
				if uf.union(i, j) {
					stats.ProximityMerges++
				}
			case sameAuthor && gap <= opts.SameAuthor.MaxGap.Minutes() && score >= opts.SameAuthor.MinSimilarity:
				if uf.union(i, j) {
					stats.SameAuthorMerges++
				}
			case gap <= opts.Similarity.MaxGap.Minutes() && score >= opts.Similarity.Threshold:
				if uf.union(i, j) {
					stats.ReferenceMerges++
				}
			}
		}
	}

	byRoot := map[int][]*segment.Conversation{}
	var rootOrder []int
	for i, c := range working {
		root := uf.find(i)
		if _, seen := byRoot[root]; !seen {
			rootOrder = append(rootOrder, root)
		}
		byRoot[root] = append(byRoot[root], c)
	}

	groups := make([]Group, 0, len(rootOrder))
	for _, root := range rootOrder {
		groups = append(groups, assemble(byRoot[root], sharedByID))
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return slack.ParseTS(groups[i].StartTime) < slack.ParseTS(groups[j].StartTime)
	})
	return groups, stats
}

func embeddingOf(embeddings map[string]embed.Result, id string) []float32 {
	if embeddings == nil {
		return nil
	}
	return embeddings[id].Embedding
}

func sortByStart(convs []*segment.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return slack.ParseTS(convs[i].StartTime) < slack.ParseTS(convs[j].StartTime)
	})
}

// gapMinutes is |start(b) - end(a)| in minutes. The absolute value keeps
// deeply overlapping conversations apart: a long thread spanning the day
// is far from a short segment inside its span, not adjacent to it.
func gapMinutes(a, b *segment.Conversation) float64 {
	return math.Abs(slack.ParseTS(b.StartTime)-slack.ParseTS(a.EndTime)) / 60
}

func sameAuthorPair(a, b *segment.Conversation, requester string) bool {
	if requester != "" && contains(a.Participants, requester) && contains(b.Participants, requester) {
		return true
	}
	if len(a.Participants) == 1 && len(b.Participants) == 1 && a.Participants[0] == b.Participants[0] {
		return true
	}
	return refs.JaccardStrings(a.Participants, b.Participants) >= 0.7
}

func proximityMatch(a, b *segment.Conversation, gap, score float64, opts Options) bool {
	window := opts.Proximity.Window
	threshold := opts.Proximity.MinSimilarity
	if slack.IsDM(a.ChannelID) && slack.IsDM(b.ChannelID) {
		window = opts.Proximity.DMWindow
		threshold = opts.Proximity.DMMinSimilarity
	}
	return gap <= window.Minutes() && score >= threshold
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// mergeBots absorbs all-bot conversations into an adjacent non-bot
// conversation within the merge window, preferring the previous one.
func mergeBots(convs []*segment.Conversation, opts Options, stats *Stats) []*segment.Conversation {
	window := opts.BotMergeWindow.Minutes()
	out := make([]*segment.Conversation, 0, len(convs))

	for i := 0; i < len(convs); i++ {
		c := convs[i]
		if !refs.IsBotConversation(c.Messages) {
			out = append(out, c)
			continue
		}

		var prev *segment.Conversation
		for k := len(out) - 1; k >= 0; k-- {
			if !refs.IsBotConversation(out[k].Messages) {
				prev = out[k]
				break
			}
		}
		if prev != nil && gapMinutes(prev, c) <= window {
			absorb(prev, c, opts.RequestingUser)
			stats.BotsMerged++
			continue
		}

		var next *segment.Conversation
		for k := i + 1; k < len(convs); k++ {
			if !refs.IsBotConversation(convs[k].Messages) {
				next = convs[k]
				break
			}
		}
		if next != nil && gapMinutes(c, next) <= window {
			absorb(next, c, opts.RequestingUser)
			stats.BotsMerged++
			continue
		}
		out = append(out, c)
	}
	return out
}

func isTrivial(c *segment.Conversation, opts TrivialOptions) bool {
	return c.MessageCount <= opts.MaxMessages && len(c.Text()) < opts.MaxCharacters
}

// mergeTrivials folds trivial conversations into the nearest substantive
// neighbor within the merge window; unmergeable trivials are dropped
// when DropOrphans is set, unless a work indicator keeps them.
func mergeTrivials(convs []*segment.Conversation, opts Options, stats *Stats) []*segment.Conversation {
	window := opts.Trivial.MergeWindow.Minutes()
	out := make([]*segment.Conversation, 0, len(convs))

	for i := 0; i < len(convs); i++ {
		c := convs[i]
		if !isTrivial(c, opts.Trivial) {
			out = append(out, c)
			continue
		}

		var prev *segment.Conversation
		prevGap := window + 1
		for k := len(out) - 1; k >= 0; k-- {
			if !isTrivial(out[k], opts.Trivial) {
				prev = out[k]
				prevGap = gapMinutes(prev, c)
				break
			}
		}
		var next *segment.Conversation
		nextGap := window + 1
		for k := i + 1; k < len(convs); k++ {
			if !isTrivial(convs[k], opts.Trivial) {
				next = convs[k]
				nextGap = gapMinutes(c, convs[k])
				break
			}
		}

		switch {
		case prev != nil && prevGap <= window && (next == nil || prevGap <= nextGap):
			absorb(prev, c, opts.RequestingUser)
			stats.TrivialsMerged++
		case next != nil && nextGap <= window:
			absorb(next, c, opts.RequestingUser)
			stats.TrivialsMerged++
		case opts.Trivial.DropOrphans && !workIndicatorRe.MatchString(c.Text()):
			stats.TrivialsDropped++
		default:
			out = append(out, c)
		}
	}
	return out
}

// absorb merges src's messages into dst and restores dst's invariants.
func absorb(dst, src *segment.Conversation, requester string) {
	seen := map[string]bool{}
	for i := range dst.Messages {
		seen[dst.Messages[i].TS] = true
	}
	for i := range src.Messages {
		if !seen[src.Messages[i].TS] {
			dst.Messages = append(dst.Messages, src.Messages[i])
		}
	}
	segment.Recompute(dst, requester)
}

func assemble(members []*segment.Conversation, sharedByID map[string]map[string]struct{}) Group {
	sortByStart(members)

	g := Group{
		ID:            shortuuid.New(),
		Conversations: members,
	}

	sharedSet := map[string]struct{}{}
	seenTS := map[string]bool{}
	seenUser := map[string]bool{}
	for _, c := range members {
		g.OriginalConversationIDs = append(g.OriginalConversationIDs, c.ID)
		g.TotalMessageCount += c.MessageCount
		g.TotalUserMessageCount += c.UserMessageCount
		if c.IsThread {
			g.HasThreads = true
		}
		for v := range sharedByID[c.ID] {
			sharedSet[v] = struct{}{}
		}
		for _, p := range c.Participants {
			if !seenUser[p] {
				seenUser[p] = true
				g.Participants = append(g.Participants, p)
			}
		}
		for i := range c.Messages {
			if c.Messages[i].IsThreadReply() {
				// Absorbed thread conversations still mark the group.
				g.HasThreads = true
			}
			if !seenTS[c.Messages[i].TS] {
				seenTS[c.Messages[i].TS] = true
				g.AllMessages = append(g.AllMessages, c.Messages[i])
			}
		}
	}
	slack.SortMessages(g.AllMessages)
	if len(g.AllMessages) > 0 {
		g.StartTime = g.AllMessages[0].TS
		g.EndTime = g.AllMessages[len(g.AllMessages)-1].TS
	}

	for v := range sharedSet {
		g.SharedReferences = append(g.SharedReferences, v)
	}
	sort.Strings(g.SharedReferences)
	return g
}
