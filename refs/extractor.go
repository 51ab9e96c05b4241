// Package refs extracts cross-system identifiers (tickets, PRs, doc
// URLs, service names, error signatures, mentions, message links) from
// message text with stable normalization, so the same artifact named in
// different messages compares equal.
package refs

import (
	"regexp"
	"strings"

	"github.com/worklog-sh/worklog/slack"
)

// Type is the closed set of reference kinds.
type Type string

const (
	TypeGitHubIssue  Type = "github_issue"
	TypeGitHubPR     Type = "github_pr"
	TypeGitHubURL    Type = "github_url"
	TypeGitLab       Type = "gitlab"
	TypeTicket       Type = "ticket"
	TypeConfluence   Type = "confluence"
	TypeNotion       Type = "notion"
	TypeGDoc         Type = "gdoc"
	TypeGSheet       Type = "gsheet"
	TypeGSlide       Type = "gslide"
	TypeFigma        Type = "figma"
	TypeAsana        Type = "asana"
	TypeClickUp      Type = "clickup"
	TypeSentry       Type = "sentry"
	TypeDatadog      Type = "datadog"
	TypePagerDuty    Type = "pagerduty"
	TypeAWSLogGroup  Type = "aws_log_group"
	TypeZendesk      Type = "zendesk"
	TypeSalesforce   Type = "salesforce"
	TypeErrorPattern Type = "error_pattern"
	TypeUserMention  Type = "user_mention"
	TypeServiceName  Type = "service_name"
	TypeSlackMessage Type = "slack_message"
)

// Reference is a single extracted identifier. Value is the normalized
// form that defines cross-message equality; Raw is the matched text.
type Reference struct {
	Type      Type   `json:"type"`
	Value     string `json:"value"`
	Raw       string `json:"raw"`
	MessageTS string `json:"message_ts"`
}

// ConversationReferences bundles a conversation's references with the
// de-duplicated value set.
type ConversationReferences struct {
	ConversationID string
	References     []Reference
	UniqueValues   map[string]struct{}
}

// extractor is one registry entry: a pattern plus a normalizer. The
// normalizer receives the regexp submatches and returns the canonical
// value, or "" to drop the match.
type extractor struct {
	typ       Type
	re        *regexp.Regexp
	normalize func(m []string) string
}

func id(prefix Type) func(m []string) string {
	return func(m []string) string { return string(prefix) + ":" + m[1] }
}

func hashNum(m []string) string { return "#" + m[1] }

var registry = []extractor{
	{TypeGitHubPR, regexp.MustCompile(`https?://github\.com/[\w.-]+/[\w.-]+/pull/(\d+)`), hashNum},
	{TypeGitHubURL, regexp.MustCompile(`https?://github\.com/[\w.-]+/[\w.-]+/issues/(\d+)`), hashNum},
	// Bare #NNN must be preceded by whitespace, start-of-string, ( or [;
	// otherwise hashtags inside words would collide. Go regexps have no
	// lookbehind, so the boundary char is captured and discarded.
	{TypeGitHubIssue, regexp.MustCompile(`(?:^|[\s(\[])#(\d+)\b`), hashNum},
	{TypeGitLab, regexp.MustCompile(`https?://gitlab\.com/[\w./-]+/-/(?:issues|merge_requests)/(\d+)`), id(TypeGitLab)},
	// Jira/Linear/Shortcut style keys require at least two leading capitals.
	{TypeTicket, regexp.MustCompile(`\b([A-Z]{2,}[A-Z0-9]*-\d+)\b`), func(m []string) string {
		return strings.ToUpper(m[1])
	}},
	{TypeConfluence, regexp.MustCompile(`https?://[\w.-]+\.atlassian\.net/wiki/spaces/[^/\s]+/pages/(\d+)`), id(TypeConfluence)},
	{TypeNotion, regexp.MustCompile(`https?://(?:www\.)?notion\.so/(?:[\w-]+/)?[\w-]*?([0-9a-f]{32})`), id(TypeNotion)},
	{TypeGDoc, regexp.MustCompile(`https?://docs\.google\.com/document/d/([\w-]+)`), id(TypeGDoc)},
	{TypeGSheet, regexp.MustCompile(`https?://docs\.google\.com/spreadsheets/d/([\w-]+)`), id(TypeGSheet)},
	{TypeGSlide, regexp.MustCompile(`https?://docs\.google\.com/presentation/d/([\w-]+)`), id(TypeGSlide)},
	{TypeFigma, regexp.MustCompile(`https?://(?:www\.)?figma\.com/(?:file|design)/([\w-]+)`), id(TypeFigma)},
	{TypeAsana, regexp.MustCompile(`https?://app\.asana\.com/\d+/\d+/(\d+)`), id(TypeAsana)},
	{TypeClickUp, regexp.MustCompile(`https?://app\.clickup\.com/t/([\w-]+)`), id(TypeClickUp)},
	{TypeSentry, regexp.MustCompile(`https?://(?:[\w-]+\.)?sentry\.io/(?:organizations/[\w-]+/)?issues/(\d+)`), id(TypeSentry)},
	{TypeDatadog, regexp.MustCompile(`https?://app\.datadoghq\.com/(?:dashboard|monitors)/([\w-]+)`), id(TypeDatadog)},
	{TypePagerDuty, regexp.MustCompile(`https?://[\w-]+\.pagerduty\.com/incidents/(\w+)`), id(TypePagerDuty)},
	{TypeAWSLogGroup, regexp.MustCompile(`(/aws/[\w][\w/.#-]+)`), id(TypeAWSLogGroup)},
	{TypeZendesk, regexp.MustCompile(`https?://[\w-]+\.zendesk\.com/(?:agent/)?tickets/(\d+)`), id(TypeZendesk)},
	{TypeSalesforce, regexp.MustCompile(`https?://[\w-]+\.lightning\.force\.com/lightning/r/\w+/([a-zA-Z0-9]{15,18})`), id(TypeSalesforce)},
	// PascalCase error names, lowercased for equality.
	{TypeErrorPattern, regexp.MustCompile(`\b([A-Z][a-z0-9]*(?:[A-Z][a-z0-9]*)*(?:Error|Exception))\b`), func(m []string) string {
		return strings.ToLower(m[1])
	}},
	// HTTP codes count as error signatures only when followed by the
	// words "error" or "status".
	{TypeErrorPattern, regexp.MustCompile(`(?i)\b([4-5]\d{2})\s+(?:error|status)\b`), func(m []string) string {
		return m[1]
	}},
	// Inline mentions; the |displayname variant is stripped to the id.
	{TypeUserMention, regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`), func(m []string) string {
		return m[1]
	}},
	{TypeServiceName, regexp.MustCompile(`\b([a-z][a-z0-9]*(?:-[a-z0-9]+)*-(?:service|api|worker|gateway|daemon))\b`), func(m []string) string {
		return m[1]
	}},
}

// ExtractMessage runs every registered extractor over the message text.
// Extraction does not stop at the first matching type: a URL can be both
// a github_pr and carry a ticket key. Duplicates are intentional and are
// collapsed only at the unique-value level.
func ExtractMessage(msg *slack.Message) []Reference {
	if msg.Text == "" {
		return nil
	}
	var out []Reference
	for _, ex := range registry {
		for _, m := range ex.re.FindAllStringSubmatch(msg.Text, -1) {
			value := ex.normalize(m)
			if value == "" {
				continue
			}
			out = append(out, Reference{
				Type:      ex.typ,
				Value:     value,
				Raw:       m[0],
				MessageTS: msg.TS,
			})
		}
	}
	for _, link := range slack.ParseMessageLinks(msg.Text) {
		out = append(out, Reference{
			Type:      TypeSlackMessage,
			Value:     "slack:" + link.ChannelID + ":" + link.TS,
			Raw:       link.Raw,
			MessageTS: msg.TS,
		})
	}
	return out
}

// ExtractConversation extracts references from every message and builds
// the unique value set.
func ExtractConversation(conversationID string, msgs []slack.Message) *ConversationReferences {
	cr := &ConversationReferences{
		ConversationID: conversationID,
		UniqueValues:   make(map[string]struct{}),
	}
	for i := range msgs {
		for _, ref := range ExtractMessage(&msgs[i]) {
			cr.References = append(cr.References, ref)
			cr.UniqueValues[ref.Value] = struct{}{}
		}
	}
	return cr
}
