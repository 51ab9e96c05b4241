package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-sh/worklog/slack"
)

func extractValues(t *testing.T, text string, typ Type) []string {
	t.Helper()
	msg := slack.Message{TS: "1700000000.000100", Text: text}
	var values []string
	for _, ref := range ExtractMessage(&msg) {
		if ref.Type == typ {
			values = append(values, ref.Value)
		}
	}
	return values
}

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		typ  Type
		want []string
	}{
		{
			name: "github pr url normalizes to number",
			text: "merged https://github.com/acme/api/pull/4821 finally",
			typ:  TypeGitHubPR,
			want: []string{"#4821"},
		},
		{
			name: "github issue url",
			text: "see https://github.com/acme/api/issues/99",
			typ:  TypeGitHubURL,
			want: []string{"#99"},
		},
		{
			name: "bare issue number needs a boundary",
			text: "fixes #123 but not word#456",
			typ:  TypeGitHubIssue,
			want: []string{"#123"},
		},
		{
			name: "bare issue number at start of string",
			text: "#77 is ready for review",
			typ:  TypeGitHubIssue,
			want: []string{"#77"},
		},
		{
			name: "ticket keys uppercase and match cross-format",
			text: "PROJ-1234 blocked on ABC2-9",
			typ:  TypeTicket,
			want: []string{"PROJ-1234", "ABC2-9"},
		},
		{
			name: "gitlab merge request",
			text: "https://gitlab.com/acme/infra/-/merge_requests/55",
			typ:  TypeGitLab,
			want: []string{"gitlab:55"},
		},
		{
			name: "google doc id",
			text: "doc at https://docs.google.com/document/d/1AbC_dEf-234/edit",
			typ:  TypeGDoc,
			want: []string{"gdoc:1AbC_dEf-234"},
		},
		{
			name: "figma file",
			text: "https://www.figma.com/file/xY12abc/design?node-id=1",
			typ:  TypeFigma,
			want: []string{"figma:xY12abc"},
		},
		{
			name: "sentry issue with org segment",
			text: "https://sentry.io/organizations/acme/issues/5550001/",
			typ:  TypeSentry,
			want: []string{"sentry:5550001"},
		},
		{
			name: "pagerduty incident",
			text: "paged via https://acme.pagerduty.com/incidents/PXYZ12",
			typ:  TypePagerDuty,
			want: []string{"pagerduty:PXYZ12"},
		},
		{
			name: "aws log group",
			text: "logs in /aws/lambda/payment-processor",
			typ:  TypeAWSLogGroup,
			want: []string{"aws_log_group:/aws/lambda/payment-processor"},
		},
		{
			name: "pascal case error lowered",
			text: "seeing NullPointerException and TimeoutError in prod",
			typ:  TypeErrorPattern,
			want: []string{"nullpointerexception", "timeouterror"},
		},
		{
			name: "http status needs error or status suffix",
			text: "got a 503 error, but 2024 items and 404 pages are fine",
			typ:  TypeErrorPattern,
			want: []string{"503"},
		},
		{
			name: "user mention with display name variant",
			text: "cc <@U12345|jane> and <@U67890>",
			typ:  TypeUserMention,
			want: []string{"U12345", "U67890"},
		},
		{
			name: "service name suffix",
			text: "restarted payment-service and auth-api",
			typ:  TypeServiceName,
			want: []string{"payment-service", "auth-api"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractValues(t, tt.text, tt.typ))
		})
	}
}

func TestExtractMessageMultipleTypes(t *testing.T) {
	// One URL can legitimately yield several reference types.
	msg := slack.Message{TS: "1.0", Text: "PROJ-1 fixed in https://github.com/acme/api/pull/10"}
	refs := ExtractMessage(&msg)

	types := map[Type]bool{}
	for _, r := range refs {
		types[r.Type] = true
	}
	assert.True(t, types[TypeTicket])
	assert.True(t, types[TypeGitHubPR])
}

func TestExtractMessageSlackLinks(t *testing.T) {
	msg := slack.Message{
		TS:   "1.0",
		Text: "context: https://acme.slack.com/archives/C024BE91L/p1700000000123456",
	}
	refs := ExtractMessage(&msg)
	require.Len(t, refs, 1)
	assert.Equal(t, TypeSlackMessage, refs[0].Type)
	assert.Equal(t, "slack:C024BE91L:1700000000.123456", refs[0].Value)
}

func TestExtractConversation(t *testing.T) {
	msgs := []slack.Message{
		{TS: "1.0", Text: "working on PROJ-42"},
		{TS: "2.0", Text: "PROJ-42 is now deployed, also touched payment-service"},
		{TS: "3.0", Text: ""},
	}
	cr := ExtractConversation("conv1", msgs)

	assert.Equal(t, "conv1", cr.ConversationID)
	assert.Len(t, cr.References, 3)
	assert.Len(t, cr.UniqueValues, 2)
	assert.Contains(t, cr.UniqueValues, "PROJ-42")
	assert.Contains(t, cr.UniqueValues, "payment-service")
}
