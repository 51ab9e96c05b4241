// Package segment splits a channel's flat message stream into coherent
// conversations using thread structure, time gaps, and optional semantic
// boundary analysis, then enriches short or mention-triggered segments
// with prior channel context.
package segment

import (
	"context"
	"sort"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/worklog-sh/worklog/slack"
)

// Conversation is a contiguous subsequence of a channel's messages (or a
// thread's replies). Messages are kept sorted by ts ascending;
// StartTime/EndTime mirror the first and last message.
type Conversation struct {
	ID               string
	ChannelID        string
	ChannelName      string
	IsThread         bool
	ThreadTS         string
	Messages         []slack.Message
	StartTime        string
	EndTime          string
	Participants     []string
	MessageCount     int
	UserMessageCount int
}

// Text joins the conversation's non-empty message texts in ts order.
func (c *Conversation) Text() string {
	out := ""
	for i := range c.Messages {
		if c.Messages[i].Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += c.Messages[i].Text
	}
	return out
}

// Thread is a pre-fetched thread: the parent plus its in-range replies.
type Thread struct {
	ChannelID string
	ParentTS  string
	Messages  []slack.Message
}

// BoundaryDecision is one proposed split from the semantic analyzer:
// start a new segment after AfterIndex when Confidence clears the
// configured threshold.
type BoundaryDecision struct {
	AfterIndex int
	Confidence float64
}

// BoundaryFunc is the external semantic boundary analyzer. It is assumed
// deterministic; nil disables semantic refinement.
type BoundaryFunc func(ctx context.Context, msgs []slack.Message) ([]BoundaryDecision, error)

// Options tunes the segmenter. Zero values take the documented defaults.
type Options struct {
	RequestingUser              string
	GapThreshold                time.Duration // default 60m
	MinMessagesForSemantic      int           // default 3
	SemanticConfidenceThreshold float64       // default 0.6
	MaxMentionContextMessages   int           // default 20
	ShortSegmentThreshold       int           // default 2
	ShortSegmentTargetSize      int           // default 10
	ShortSegmentMaxGap          time.Duration // default 120m
	Boundary                    BoundaryFunc
	Timezone                    *time.Location
}

func (o Options) withDefaults() Options {
	if o.GapThreshold <= 0 {
		o.GapThreshold = 60 * time.Minute
	}
	if o.MinMessagesForSemantic <= 0 {
		o.MinMessagesForSemantic = 3
	}
	if o.SemanticConfidenceThreshold <= 0 {
		o.SemanticConfidenceThreshold = 0.6
	}
	if o.MaxMentionContextMessages <= 0 {
		o.MaxMentionContextMessages = 20
	}
	if o.ShortSegmentThreshold <= 0 {
		o.ShortSegmentThreshold = 2
	}
	if o.ShortSegmentTargetSize <= 0 {
		o.ShortSegmentTargetSize = 10
	}
	if o.ShortSegmentMaxGap <= 0 {
		o.ShortSegmentMaxGap = 120 * time.Minute
	}
	if o.Timezone == nil {
		o.Timezone = time.Local
	}
	return o
}

// Split converts a channel's messages and pre-fetched threads into
// conversations: thread split, time-gap split, optional semantic
// refinement, start-time sort, then context enrichment against the full
// channel stream.
func Split(ctx context.Context, channelID, channelName string, msgs []slack.Message, threads []Thread, allChannelMessages []slack.Message, opts Options) []Conversation {
	opts = opts.withDefaults()

	// Stage 1: thread replies leave the main sequence; threads arrive
	// pre-fetched and become conversations directly.
	main := make([]slack.Message, 0, len(msgs))
	for i := range msgs {
		if !msgs[i].IsThreadReply() {
			main = append(main, msgs[i])
		}
	}

	var conversations []Conversation
	for _, th := range threads {
		if len(th.Messages) == 0 {
			continue
		}
		conv := newConversation(channelID, channelName, th.Messages, opts.RequestingUser)
		conv.IsThread = true
		conv.ThreadTS = th.ParentTS
		conversations = append(conversations, conv)
	}

	// Stage 2: time-gap split over the sorted main sequence.
	slack.SortMessages(main)
	for _, seg := range splitByGaps(main, opts.GapThreshold) {
		// Stage 3: semantic refinement for substantial segments.
		for _, part := range refineSemantic(ctx, seg, opts) {
			conversations = append(conversations, newConversation(channelID, channelName, part, opts.RequestingUser))
		}
	}

	// Stage 4: stable order by start time.
	sort.SliceStable(conversations, func(i, j int) bool {
		return slack.ParseTS(conversations[i].StartTime) < slack.ParseTS(conversations[j].StartTime)
	})

	// Stage 5: context enrichment.
	for i := range conversations {
		enrich(&conversations[i], allChannelMessages, opts)
	}
	return conversations
}

func splitByGaps(msgs []slack.Message, gap time.Duration) [][]slack.Message {
	if len(msgs) == 0 {
		return nil
	}
	var segments [][]slack.Message
	cur := []slack.Message{msgs[0]}
	for i := 1; i < len(msgs); i++ {
		delta := msgs[i].Time() - msgs[i-1].Time()
		if delta >= gap.Seconds() {
			segments = append(segments, cur)
			cur = nil
		}
		cur = append(cur, msgs[i])
	}
	segments = append(segments, cur)
	return segments
}

func refineSemantic(ctx context.Context, seg []slack.Message, opts Options) [][]slack.Message {
	if opts.Boundary == nil || len(seg) < opts.MinMessagesForSemantic {
		return [][]slack.Message{seg}
	}
	decisions, err := opts.Boundary(ctx, seg)
	if err != nil {
		return [][]slack.Message{seg}
	}

	cuts := map[int]bool{}
	for _, d := range decisions {
		if d.Confidence >= opts.SemanticConfidenceThreshold && d.AfterIndex >= 0 && d.AfterIndex < len(seg)-1 {
			cuts[d.AfterIndex] = true
		}
	}
	if len(cuts) == 0 {
		return [][]slack.Message{seg}
	}

	var parts [][]slack.Message
	var cur []slack.Message
	for i := range seg {
		cur = append(cur, seg[i])
		if cuts[i] {
			parts = append(parts, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		parts = append(parts, cur)
	}
	return parts
}

func newConversation(channelID, channelName string, msgs []slack.Message, requester string) Conversation {
	sorted := make([]slack.Message, len(msgs))
	copy(sorted, msgs)
	slack.SortMessages(sorted)

	conv := Conversation{
		ID:          shortuuid.New(),
		ChannelID:   channelID,
		ChannelName: channelName,
		Messages:    sorted,
	}
	Recompute(&conv, requester)
	return conv
}

// Recompute restores the conversation invariants after its message set
// changed: ts sort, start/end, participants, message count. The user
// message count ignores context messages, which never count as user
// activity.
func Recompute(conv *Conversation, requester string) {
	slack.SortMessages(conv.Messages)
	conv.MessageCount = len(conv.Messages)
	conv.UserMessageCount = 0
	conv.Participants = conv.Participants[:0]

	seen := map[string]bool{}
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if m.User != "" && !seen[m.User] {
			seen[m.User] = true
			conv.Participants = append(conv.Participants, m.User)
		}
		if m.User == requester && !m.IsContext() {
			conv.UserMessageCount++
		}
	}
	if len(conv.Messages) > 0 {
		conv.StartTime = conv.Messages[0].TS
		conv.EndTime = conv.Messages[len(conv.Messages)-1].TS
	} else {
		conv.StartTime, conv.EndTime = "", ""
	}
}
