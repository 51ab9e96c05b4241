// Package summarize turns consolidated conversation groups into
// work-log entries via the configured Anthropic backend, with a
// deterministic keyword fallback when the model is unavailable.
package summarize

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/worklog-sh/worklog/consolidate"
	"github.com/worklog-sh/worklog/llm"
	"github.com/worklog-sh/worklog/logging"
	"github.com/worklog-sh/worklog/slack"
)

// Token budgets per request shape.
const (
	singleMaxTokens = 2048
	batchMaxTokens  = 4096
)

// batchThreshold is the group count above which one batched request
// replaces per-group requests.
const batchThreshold = 2

// Summary is one work-log entry. Narrative fields come from the model;
// the rest is computed from the group.
type Summary struct {
	NarrativeSummary string   `json:"narrative_summary"`
	StartTime        string   `json:"start_time"`
	EndTime          string   `json:"end_time"`
	MessageCount     int      `json:"message_count"`
	UserMessageCount int      `json:"user_message_count"`
	Participants     []string `json:"participants"`
	KeyEvents        []string `json:"key_events,omitempty"`
	References       []string `json:"references,omitempty"`
	Outcome          string   `json:"outcome,omitempty"`
	NextActions      []string `json:"next_actions,omitempty"`
	TimesheetEntry   string   `json:"timesheet_entry"`
	SlackLink        string   `json:"slack_link,omitempty"`
	SegmentsMerged   int      `json:"segments_merged,omitempty"`
	IsThread         bool     `json:"is_thread,omitempty"`
}

// narrative is the model's half of a Summary.
type narrative struct {
	NarrativeSummary string   `json:"narrative_summary"`
	KeyEvents        []string `json:"key_events"`
	Outcome          string   `json:"outcome"`
	NextActions      []string `json:"next_actions"`
	TimesheetEntry   string   `json:"timesheet_entry"`
}

// Summarizer drives the LLM for one run. The semaphore bounds model
// concurrency across all channels of the run.
type Summarizer struct {
	backend   llm.Backend
	model     string
	names     *NameResolver
	requester string
	tz        *time.Location
	sem       *semaphore.Weighted
}

// New builds a Summarizer. sem may be shared across channel pipelines.
func New(backend llm.Backend, model string, names *NameResolver, requester string, tz *time.Location, sem *semaphore.Weighted) *Summarizer {
	if tz == nil {
		tz = time.Local
	}
	return &Summarizer{
		backend:   backend,
		model:     model,
		names:     names,
		requester: requester,
		tz:        tz,
		sem:       sem,
	}
}

// SummarizeGroups produces one Summary per group, batching when the
// group count warrants it. Model failures degrade to keyword summaries;
// this method never fails the channel.
func (s *Summarizer) SummarizeGroups(ctx context.Context, channelName string, groups []*consolidate.Group) []Summary {
	if len(groups) == 0 {
		return nil
	}

	var narratives []narrative
	if len(groups) > batchThreshold {
		narratives = s.summarizeBatch(ctx, channelName, groups)
	}
	if narratives == nil {
		narratives = s.summarizeSingles(ctx, channelName, groups)
	}

	out := make([]Summary, len(groups))
	for i, g := range groups {
		out[i] = s.assemble(ctx, g, narratives[i])
	}
	return out
}

// summarizeBatch issues one request for all groups. Any failure,
// including a response count mismatch, returns nil and the caller falls
// back to per-group requests.
func (s *Summarizer) summarizeBatch(ctx context.Context, channelName string, groups []*consolidate.Group) []narrative {
	prompt := s.buildBatchPrompt(ctx, channelName, groups)

	raw, err := s.createMessage(ctx, batchMaxTokens, prompt)
	if err != nil {
		logging.Warn("batch summarization failed, falling back to singles", "channel", channelName, "error", err.Error())
		return nil
	}

	var parsed []narrative
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		logging.Warn("batch response is not a JSON array, falling back to singles", "channel", channelName)
		return nil
	}
	if len(parsed) != len(groups) {
		logging.Warn("batch response count mismatch, falling back to singles",
			"channel", channelName, "got", len(parsed), "want", len(groups))
		return nil
	}
	return parsed
}

// summarizeSingles requests each group independently in parallel. A
// failed group gets the keyword fallback.
func (s *Summarizer) summarizeSingles(ctx context.Context, channelName string, groups []*consolidate.Group) []narrative {
	narratives := make([]narrative, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	for i := range groups {
		i := i
		g.Go(func() error {
			prompt := s.buildSinglePrompt(gctx, channelName, groups[i])
			raw, err := s.createMessage(gctx, singleMaxTokens, prompt)
			if err == nil {
				var n narrative
				if jsonErr := json.Unmarshal([]byte(stripFences(raw)), &n); jsonErr == nil && n.NarrativeSummary != "" {
					narratives[i] = n
					return nil
				}
				logging.Warn("summary response unparseable, using fallback", "channel", channelName)
			} else {
				logging.Warn("summarization failed, using fallback", "channel", channelName, "error", err.Error())
			}
			narratives[i] = fallbackNarrative(groups[i], channelName)
			return nil
		})
	}
	_ = g.Wait()
	return narratives
}

func (s *Summarizer) createMessage(ctx context.Context, maxTokens int, prompt string) (string, error) {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer s.sem.Release(1)
	}
	return s.backend.CreateMessage(ctx, s.model, maxTokens, prompt)
}

// assemble joins a narrative with the group's computed fields.
func (s *Summarizer) assemble(ctx context.Context, g *consolidate.Group, n narrative) Summary {
	sum := Summary{
		NarrativeSummary: n.NarrativeSummary,
		KeyEvents:        n.KeyEvents,
		Outcome:          n.Outcome,
		NextActions:      n.NextActions,
		TimesheetEntry:   n.TimesheetEntry,
		MessageCount:     g.TotalMessageCount,
		UserMessageCount: g.TotalUserMessageCount,
		References:       g.SharedReferences,
		IsThread:         g.HasThreads,
	}
	sum.StartTime = s.formatTS(g.StartTime)
	sum.EndTime = s.formatTS(g.EndTime)
	for _, p := range g.Participants {
		if p == s.requester {
			continue
		}
		sum.Participants = append(sum.Participants, "@"+s.names.DisplayName(ctx, p))
	}
	if len(g.Conversations) > 1 {
		sum.SegmentsMerged = len(g.Conversations)
	}
	return sum
}

func (s *Summarizer) formatTS(ts string) string {
	sec := slack.ParseTS(ts)
	if sec == 0 {
		return ""
	}
	return time.Unix(int64(sec), 0).In(s.tz).Format("2006-01-02 15:04")
}

// stripFences removes a markdown code fence wrapper if the model added
// one despite instructions.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "you": true, "have": true, "are": true, "was": true,
	"but": true, "not": true, "can": true, "will": true, "just": true,
	"what": true, "about": true, "from": true, "they": true, "there": true,
	"been": true, "were": true, "when": true, "would": true, "could": true,
	"should": true, "your": true, "our": true, "has": true, "had": true,
	"its": true, "it's": true, "i'm": true, "we're": true, "don't": true,
}

// fallbackNarrative builds a deterministic summary from the group's most
// frequent meaningful words. It is deliberately bland; its job is to
// never lose an entry, not to be eloquent.
func fallbackNarrative(g *consolidate.Group, channelName string) narrative {
	counts := map[string]int{}
	for i := range g.AllMessages {
		for _, w := range strings.Fields(strings.ToLower(g.AllMessages[i].Text)) {
			w = strings.Trim(w, ".,!?:;()[]<>\"'`*_~")
			if len(w) < 3 || stopwords[w] || strings.HasPrefix(w, "http") || strings.HasPrefix(w, "<@") {
				continue
			}
			counts[w]++
		}
	}
	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, wc{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	top := make([]string, 0, 3)
	for i := 0; i < len(ranked) && i < 3; i++ {
		top = append(top, ranked[i].word)
	}

	desc := "Conversation in #" + channelName
	if len(top) > 0 {
		desc += " about " + strings.Join(top, ", ")
	}
	return narrative{
		NarrativeSummary: desc + " (" + strconv.Itoa(g.TotalMessageCount) + " messages; automatic summary unavailable).",
		TimesheetEntry:   "Slack discussion in #" + channelName,
	}
}
