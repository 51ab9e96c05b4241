package refs

import "github.com/worklog-sh/worklog/slack"

// IsBotMessage reports whether a message originated from a bot: either
// the explicit bot_message subtype, or app-posted content that carries
// text but no user.
func IsBotMessage(m *slack.Message) bool {
	if m.Subtype == slack.SubtypeBot {
		return true
	}
	return m.User == "" && m.Text != ""
}

// IsBotConversation reports whether every message in the slice is a bot
// message. An empty slice is not a bot conversation.
func IsBotConversation(msgs []slack.Message) bool {
	if len(msgs) == 0 {
		return false
	}
	for i := range msgs {
		if !IsBotMessage(&msgs[i]) {
			return false
		}
	}
	return true
}
