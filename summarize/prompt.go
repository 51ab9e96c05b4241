package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/worklog-sh/worklog/consolidate"
	"github.com/worklog-sh/worklog/internal/strutil"
	"github.com/worklog-sh/worklog/slack"
)

// Per-message text limits keep prompts inside the model's useful
// window. Batch prompts carry many conversations and get far tighter
// truncation.
const (
	singleMessageLimit  = 5000
	batchMessageLimit   = 200
	attachmentTextLimit = 300
)

var mentionRe = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// renderTranscript renders a group's messages as prompt lines. Context
// messages carry an explicit prefix so the model treats them as
// backstory, not the user's own activity.
func (s *Summarizer) renderTranscript(ctx context.Context, group *consolidate.Group, perMessageLimit int) string {
	var b strings.Builder
	for i := range group.AllMessages {
		m := &group.AllMessages[i]

		switch m.Subtype {
		case slack.SubtypeMentionContext:
			b.WriteString("[PRIOR CONTEXT] ")
		case slack.SubtypeContext:
			b.WriteString("[CONTEXT] ")
		}

		speaker := "[Bot]"
		if m.User != "" {
			speaker = "[" + s.names.DisplayName(ctx, m.User) + "]"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(strutil.Truncate(s.rewriteMentions(ctx, m.Text), perMessageLimit))
		b.WriteByte('\n')

		for j := range m.Attachments {
			text := m.Attachments[j].Text
			if text == "" {
				text = m.Attachments[j].Fallback
			}
			if text == "" {
				continue
			}
			author := m.Attachments[j].AuthorName
			if author == "" && m.Attachments[j].AuthorID != "" {
				author = s.names.DisplayName(ctx, m.Attachments[j].AuthorID)
			}
			if author != "" {
				fmt.Fprintf(&b, "> (%s) %s\n", author, strutil.Truncate(text, attachmentTextLimit))
			} else {
				fmt.Fprintf(&b, "> %s\n", strutil.Truncate(text, attachmentTextLimit))
			}
		}
	}
	return b.String()
}

// rewriteMentions replaces raw <@U...> tokens with @name so the model
// never sees opaque ids.
func (s *Summarizer) rewriteMentions(ctx context.Context, text string) string {
	return mentionRe.ReplaceAllStringFunc(text, func(tok string) string {
		sub := mentionRe.FindStringSubmatch(tok)
		if sub == nil {
			return tok
		}
		return "@" + s.names.DisplayName(ctx, sub[1])
	})
}

const promptSchema = `{
  "narrative_summary": "2-4 sentences describing what happened",
  "key_events": ["notable moments, decisions, or findings"],
  "outcome": "how the conversation resolved, or empty string if unresolved",
  "next_actions": ["follow-ups that were agreed or implied"],
  "timesheet_entry": "one line suitable for a timesheet"
}`

const promptInstructions = `Write for the work log of %s, in past tense with the first person omitted ("Reviewed the deploy pipeline", never "I reviewed" or "%s reviewed"). Be concrete: name the systems, tickets, and people involved. Never use vague phrases like "discussed various topics", "had a conversation", or "worked on some things". Base every statement on the transcript; do not invent details.`

// buildSinglePrompt renders the one-group prompt.
func (s *Summarizer) buildSinglePrompt(ctx context.Context, channelName string, group *consolidate.Group) string {
	requesterName := s.names.DisplayName(ctx, s.requester)
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this Slack conversation from #%s.\n\n", channelName)
	fmt.Fprintf(&b, promptInstructions+"\n\n", requesterName, requesterName)
	fmt.Fprintf(&b, "Respond with a single JSON object, no surrounding prose:\n%s\n\n", promptSchema)
	b.WriteString("Transcript:\n")
	b.WriteString(s.renderTranscript(ctx, group, singleMessageLimit))
	return b.String()
}

// buildBatchPrompt renders the multi-group prompt. The response must be
// a JSON array with one object per conversation, in order.
func (s *Summarizer) buildBatchPrompt(ctx context.Context, channelName string, groups []*consolidate.Group) string {
	requesterName := s.names.DisplayName(ctx, s.requester)
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize each of the %d Slack conversations from #%s below.\n\n", len(groups), channelName)
	fmt.Fprintf(&b, promptInstructions+"\n\n", requesterName, requesterName)
	fmt.Fprintf(&b, "Respond with a JSON array of exactly %d objects, one per conversation in the order given, no surrounding prose. Each object:\n%s\n\n", len(groups), promptSchema)
	for i, g := range groups {
		fmt.Fprintf(&b, "=== Conversation %d ===\n", i+1)
		b.WriteString(s.renderTranscript(ctx, g, batchMessageLimit))
		b.WriteByte('\n')
	}
	return b.String()
}
