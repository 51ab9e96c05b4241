package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTS(t *testing.T) {
	assert.Equal(t, 1700000000.123456, ParseTS("1700000000.123456"))
	assert.Equal(t, 0.0, ParseTS("not-a-ts"))
	assert.Equal(t, 0.0, ParseTS(""))
}

func TestSortMessages(t *testing.T) {
	msgs := []Message{
		{TS: "1700000300.000000"},
		{TS: "1700000100.000000"},
		{TS: "1700000200.000000"},
	}
	SortMessages(msgs)
	assert.Equal(t, "1700000100.000000", msgs[0].TS)
	assert.Equal(t, "1700000300.000000", msgs[2].TS)
}

func TestIsThreadReply(t *testing.T) {
	parent := Message{TS: "1.000000", ThreadTS: "1.000000"}
	reply := Message{TS: "2.000000", ThreadTS: "1.000000"}
	plain := Message{TS: "3.000000"}

	assert.False(t, parent.IsThreadReply())
	assert.True(t, reply.IsThreadReply())
	assert.False(t, plain.IsThreadReply())
}

func TestParseMessageLinks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []MessageLink
	}{
		{
			name: "plain message link",
			text: "see https://acme.slack.com/archives/C024BE91L/p1700000000123456 for context",
			want: []MessageLink{{
				ChannelID: "C024BE91L",
				TS:        "1700000000.123456",
				Raw:       "https://acme.slack.com/archives/C024BE91L/p1700000000123456",
			}},
		},
		{
			name: "thread link carries thread ts",
			text: "https://acme.slack.com/archives/C024BE91L/p1700000000123456?thread_ts=1699999999.000100&cid=C024BE91L",
			want: []MessageLink{{
				ChannelID: "C024BE91L",
				TS:        "1700000000.123456",
				ThreadTS:  "1699999999.000100",
				Raw:       "https://acme.slack.com/archives/C024BE91L/p1700000000123456?thread_ts=1699999999.000100&cid=C024BE91L",
			}},
		},
		{
			name: "no links",
			text: "nothing to see here",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMessageLinks(tt.text))
		})
	}
}

func TestSplitLinkTS(t *testing.T) {
	assert.Equal(t, "1700000000.123456", SplitLinkTS("1700000000123456"))
	// 17-digit runs keep the first 16.
	assert.Equal(t, "1700000000.123456", SplitLinkTS("17000000001234567"))
	assert.Equal(t, "123", SplitLinkTS("123"))
}

func TestChannelDisplayName(t *testing.T) {
	names := map[string]string{"U1": "alice", "U2": "bob", "U3": "carol"}

	t.Run("dm uses peer name", func(t *testing.T) {
		ch := Channel{ID: "D1", Kind: ChannelDM, PeerUser: "U2"}
		assert.Equal(t, "bob", ch.DisplayName("U1", names))
	})

	t.Run("group dm lists members without requester", func(t *testing.T) {
		ch := Channel{ID: "G1", Kind: ChannelGroupDM, Members: []string{"U1", "U2", "U3"}}
		assert.Equal(t, "bob, carol", ch.DisplayName("U1", names))
	})

	t.Run("group dm falls back to mpdm name parsing", func(t *testing.T) {
		ch := Channel{ID: "G1", Kind: ChannelGroupDM, Name: "mpdm-alice--bob--carol-1"}
		assert.Equal(t, "bob, carol", ch.DisplayName("U1", names))
	})

	t.Run("public channel keeps its name", func(t *testing.T) {
		ch := Channel{ID: "C1", Kind: ChannelPublic, Name: "engineering"}
		assert.Equal(t, "engineering", ch.DisplayName("U1", names))
	})
}

func TestIsDM(t *testing.T) {
	assert.True(t, IsDM("D024BE91L"))
	assert.False(t, IsDM("C024BE91L"))
}

func TestChannelURL(t *testing.T) {
	assert.Equal(t, "https://acme.slack.com/archives/C1", ChannelURL("acme", "C1"))
	require.Contains(t, ChannelURL("", "C1"), "app.slack.com")
}
