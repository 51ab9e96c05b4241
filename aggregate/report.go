package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/worklog-sh/worklog/consolidate"
	"github.com/worklog-sh/worklog/fetch"
	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/summarize"
)

// ChannelReport is one channel's section of the report, ordered by how
// much the user interacted there.
type ChannelReport struct {
	ChannelID    string              `json:"channel_id"`
	ChannelName  string              `json:"channel_name"`
	Kind         slack.ChannelKind   `json:"kind"`
	MessagesSent int                 `json:"messages_sent"`
	Mentions     int                 `json:"mentions"`
	Reactions    int                 `json:"reactions"`
	Summaries    []summarize.Summary `json:"summaries"`
}

// Interactions is the channel's sort key.
func (c *ChannelReport) Interactions() int {
	return c.MessagesSent + c.Mentions + c.Reactions
}

// Report is the full run output.
type Report struct {
	RunID              string            `json:"run_id"`
	GeneratedAt        string            `json:"generated_at"`
	User               string            `json:"user"`
	Timespan           string            `json:"timespan"`
	Start              string            `json:"start"`
	End                string            `json:"end"`
	Model              string            `json:"model"`
	Backend            string            `json:"backend"`
	TotalChannels      int               `json:"total_channels"`
	TotalConversations int               `json:"total_conversations"`
	TotalMessagesSent  int               `json:"total_messages_sent"`
	TotalMentions      int               `json:"total_mentions"`
	TotalReactions     int               `json:"total_reactions"`
	Consolidation      consolidate.Stats `json:"consolidation"`
	Channels           []ChannelReport   `json:"channels"`
}

// assembleReport orders channels by interaction count and fills in the
// run metadata. Channels where the user was only mentioned carry no
// summaries and are excluded; their mentions still count in the totals.
func (a *Aggregator) assembleReport(
	ctx context.Context,
	token string,
	r timespan.Range,
	data *fetch.UserActivityData,
	names *summarize.NameResolver,
	userID string,
	channels []ChannelReport,
	stats consolidate.Stats,
	loc *time.Location,
) *Report {
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Interactions() != channels[j].Interactions() {
			return channels[i].Interactions() > channels[j].Interactions()
		}
		return channels[i].ChannelName < channels[j].ChannelName
	})

	report := &Report{
		RunID:         uuid.NewString(),
		GeneratedAt:   a.now().In(loc).Format(time.RFC3339),
		User:          "@" + names.DisplayName(ctx, userID),
		Timespan:      token,
		Start:         r.Start.In(loc).Format("2006-01-02 15:04"),
		End:           r.End.In(loc).Format("2006-01-02 15:04"),
		Model:         a.cfg.Anthropic.Model,
		Backend:       a.backend.Name(),
		TotalMentions: len(data.Mentions),
		Consolidation: stats,
		Channels:      channels,
	}
	for i := range channels {
		report.TotalChannels++
		report.TotalMessagesSent += channels[i].MessagesSent
		report.TotalReactions += channels[i].Reactions
		report.TotalConversations += len(channels[i].Summaries)
	}
	return report
}

// JSON renders the report for machine consumption.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the human-facing work log.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Work log for %s\n\n", r.User)
	fmt.Fprintf(&b, "**Period:** %s to %s (%s)\n", r.Start, r.End, r.Timespan)
	fmt.Fprintf(&b, "**Activity:** %d messages across %d channels, %d mentions, %d reactions\n\n",
		r.TotalMessagesSent, r.TotalChannels, r.TotalMentions, r.TotalReactions)

	if len(r.Channels) == 0 {
		b.WriteString("No activity found in this period.\n")
		return b.String()
	}

	for i := range r.Channels {
		ch := &r.Channels[i]
		fmt.Fprintf(&b, "## #%s\n\n", ch.ChannelName)
		fmt.Fprintf(&b, "%d messages sent", ch.MessagesSent)
		if ch.Mentions > 0 {
			fmt.Fprintf(&b, ", %d mentions", ch.Mentions)
		}
		if ch.Reactions > 0 {
			fmt.Fprintf(&b, ", %d reactions", ch.Reactions)
		}
		b.WriteString("\n\n")

		for j := range ch.Summaries {
			writeSummaryMarkdown(&b, &ch.Summaries[j])
		}
	}

	fmt.Fprintf(&b, "---\nGenerated %s · model %s · backend %s · run %s\n",
		r.GeneratedAt, r.Model, r.Backend, r.RunID)
	return b.String()
}

func writeSummaryMarkdown(b *strings.Builder, s *summarize.Summary) {
	title := s.TimesheetEntry
	if title == "" {
		title = "Conversation"
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	fmt.Fprintf(b, "*%s to %s", s.StartTime, s.EndTime)
	if s.SegmentsMerged > 1 {
		fmt.Fprintf(b, " · %d segments merged", s.SegmentsMerged)
	}
	if s.IsThread {
		b.WriteString(" · thread")
	}
	b.WriteString("*\n\n")

	fmt.Fprintf(b, "%s\n\n", s.NarrativeSummary)

	if len(s.KeyEvents) > 0 {
		b.WriteString("**Key events:**\n")
		for _, e := range s.KeyEvents {
			fmt.Fprintf(b, "- %s\n", e)
		}
		b.WriteByte('\n')
	}
	if s.Outcome != "" {
		fmt.Fprintf(b, "**Outcome:** %s\n\n", s.Outcome)
	}
	if len(s.NextActions) > 0 {
		b.WriteString("**Next actions:**\n")
		for _, n := range s.NextActions {
			fmt.Fprintf(b, "- %s\n", n)
		}
		b.WriteByte('\n')
	}
	if len(s.Participants) > 0 {
		fmt.Fprintf(b, "**With:** %s\n\n", strings.Join(s.Participants, ", "))
	}
	if len(s.References) > 0 {
		fmt.Fprintf(b, "**References:** %s\n\n", strings.Join(s.References, ", "))
	}
	if s.SlackLink != "" {
		fmt.Fprintf(b, "[View in Slack](%s)\n\n", s.SlackLink)
	}
}
