package refs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/worklog-sh/worklog/slack"
)

func TestForSimilarity(t *testing.T) {
	msgs := []slack.Message{
		{TS: "1.0", Text: "PROJ-7 needs review <@U111>"},
		{TS: "2.0", Text: "<@U222> please look"},
	}
	cr := ExtractConversation("c", msgs)
	set := ForSimilarity(cr)

	// Pure mentions drop; the ticket stays.
	assert.Contains(t, set, "PROJ-7")
	assert.NotContains(t, set, "U111")
	assert.NotContains(t, set, "U222")
}

func TestForSimilarityKeepsDualSourcedValues(t *testing.T) {
	// A value extracted both as a mention and as something else survives.
	cr := &ConversationReferences{
		References: []Reference{
			{Type: TypeUserMention, Value: "ABC123"},
			{Type: TypeTicket, Value: "ABC123"},
		},
		UniqueValues: map[string]struct{}{"ABC123": {}},
	}
	set := ForSimilarity(cr)
	assert.Contains(t, set, "ABC123")
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"both empty", nil, nil, 0},
		{"one empty", []string{"x"}, nil, 0},
		{"identical", []string{"a", "b"}, []string{"a", "b"}, 1},
		{"half overlap", []string{"a", "b"}, []string{"b", "c"}, 1.0 / 3.0},
		{"disjoint", []string{"a"}, []string{"b"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, JaccardStrings(tt.a, tt.b), 1e-9)
		})
	}
}

func TestIsBotMessage(t *testing.T) {
	assert.True(t, IsBotMessage(&slack.Message{Subtype: slack.SubtypeBot, Text: "deploy done"}))
	assert.True(t, IsBotMessage(&slack.Message{User: "", Text: "automated notice"}))
	assert.False(t, IsBotMessage(&slack.Message{User: "U1", Text: "hello"}))
}

func TestIsBotConversation(t *testing.T) {
	bots := []slack.Message{
		{Subtype: slack.SubtypeBot, Text: "build passed"},
		{Subtype: slack.SubtypeBot, Text: "build failed"},
	}
	assert.True(t, IsBotConversation(bots))

	mixed := append(bots, slack.Message{User: "U1", Text: "looking"})
	assert.False(t, IsBotConversation(mixed))

	assert.False(t, IsBotConversation(nil))
}
