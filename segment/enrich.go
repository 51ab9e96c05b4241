package segment

import (
	"strings"
	"time"

	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/slack"
)

// enrich adds prior channel context to a conversation. Mention lookback
// wins; short-segment expansion applies only when no mention context was
// added. Added messages keep the conversation's user message count
// untouched.
func enrich(conv *Conversation, channelMsgs []slack.Message, opts Options) {
	added := mentionLookback(conv, channelMsgs, opts)
	if len(added) == 0 {
		added = shortSegmentExpansion(conv, channelMsgs, opts)
	}
	if len(added) == 0 {
		return
	}

	existing := map[string]bool{}
	for i := range conv.Messages {
		existing[conv.Messages[i].TS] = true
	}
	for i := range added {
		if existing[added[i].TS] {
			continue
		}
		existing[added[i].TS] = true
		conv.Messages = append(conv.Messages, added[i])
	}
	Recompute(conv, opts.RequestingUser)
}

// mentionLookback collects same-day channel messages preceding the first
// mention of the requesting user, capped at MaxMentionContextMessages.
// When the requester authored the first message the conversation needs
// no backstory and lookback is skipped.
func mentionLookback(conv *Conversation, channelMsgs []slack.Message, opts Options) []slack.Message {
	if len(conv.Messages) == 0 || opts.RequestingUser == "" {
		return nil
	}
	if conv.Messages[0].User == opts.RequestingUser {
		return nil
	}

	mentionToken := "<@" + opts.RequestingUser
	firstMention := 0.0
	for i := range conv.Messages {
		if strings.Contains(conv.Messages[i].Text, mentionToken) {
			firstMention = conv.Messages[i].Time()
			break
		}
	}
	if firstMention == 0 {
		return nil
	}

	dayStart := timespan.StartOfDay(time.Unix(int64(firstMention), 0), opts.Timezone)
	dayStartTS := float64(dayStart.UnixMicro()) / 1e6

	var context []slack.Message
	for i := range channelMsgs {
		m := channelMsgs[i]
		ts := m.Time()
		if ts < dayStartTS || ts >= firstMention {
			continue
		}
		if m.IsContext() {
			continue
		}
		m.Subtype = slack.SubtypeMentionContext
		context = append(context, m)
	}
	if len(context) > opts.MaxMentionContextMessages {
		context = context[len(context)-opts.MaxMentionContextMessages:]
	}
	return context
}

// shortSegmentExpansion walks channel messages backward from the
// conversation start until the segment reaches the target size, stopping
// early at a large gap. Threads are never expanded.
func shortSegmentExpansion(conv *Conversation, channelMsgs []slack.Message, opts Options) []slack.Message {
	if conv.IsThread || len(conv.Messages) == 0 {
		return nil
	}
	if conv.UserMessageCount > opts.ShortSegmentThreshold {
		return nil
	}

	startTS := slack.ParseTS(conv.StartTime)
	inConv := map[string]bool{}
	for i := range conv.Messages {
		inConv[conv.Messages[i].TS] = true
	}

	var prior []slack.Message
	for i := range channelMsgs {
		m := channelMsgs[i]
		if m.Time() < startTS && !inConv[m.TS] && !m.IsContext() {
			prior = append(prior, m)
		}
	}
	slack.SortMessages(prior)

	need := opts.ShortSegmentTargetSize - conv.MessageCount
	if need <= 0 || len(prior) == 0 {
		return nil
	}

	maxGap := opts.ShortSegmentMaxGap.Seconds()
	var picked []slack.Message
	nextTS := startTS
	for i := len(prior) - 1; i >= 0 && len(picked) < need; i-- {
		m := prior[i]
		if nextTS-m.Time() > maxGap {
			break
		}
		nextTS = m.Time()
		m.Subtype = slack.SubtypeContext
		picked = append(picked, m)
	}
	return picked
}
