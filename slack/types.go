// Package slack defines the typed chat-platform surface the pipeline
// consumes, a token-bucket rate limiter in front of it, and an adapter
// backed by the slack-go client.
package slack

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Message subtypes. CONTEXT and MENTION_CONTEXT are internal markers
// injected by the segmenter's enricher and never come from the wire.
const (
	SubtypeBot            = "bot_message"
	SubtypeContext        = "CONTEXT"
	SubtypeMentionContext = "MENTION_CONTEXT"
)

// Message is a single channel or thread message. TS is the platform's
// canonical ordering key within a channel: a "seconds.microseconds"
// decimal kept as a string for identity and parsed only for comparison.
type Message struct {
	TS          string       `json:"ts"`
	ChannelID   string       `json:"channel_id"`
	User        string       `json:"user,omitempty"`
	Text        string       `json:"text,omitempty"`
	Type        string       `json:"type"`
	Subtype     string       `json:"subtype,omitempty"`
	ThreadTS    string       `json:"thread_parent_ts,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment carries shared-message or link-unfurl content.
type Attachment struct {
	Text       string `json:"text,omitempty"`
	Fallback   string `json:"fallback,omitempty"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	TS         string `json:"ts,omitempty"`
}

// Time returns the ts as a float for comparisons. Invalid ts yields 0.
func (m *Message) Time() float64 {
	return ParseTS(m.TS)
}

// IsThreadReply reports whether the message is a reply inside a thread
// (a thread parent carries its own ts as thread ts and is not a reply).
func (m *Message) IsThreadReply() bool {
	return m.ThreadTS != "" && m.ThreadTS != m.TS
}

// IsContext reports whether the message was injected by the enricher.
func (m *Message) IsContext() bool {
	return m.Subtype == SubtypeContext || m.Subtype == SubtypeMentionContext
}

// ParseTS parses a "seconds.microseconds" ts into a float. Returns 0 for
// malformed input.
func ParseTS(ts string) float64 {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return f
}

// SortMessages orders messages by ts ascending, in place.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return ParseTS(msgs[i].TS) < ParseTS(msgs[j].TS)
	})
}

// ChannelKind classifies a conversation container.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
	ChannelDM      ChannelKind = "dm"
	ChannelGroupDM ChannelKind = "group_dm"
)

// Channel is a conversation container the user participates in.
type Channel struct {
	ID       string      `json:"id"`
	Name     string      `json:"name,omitempty"`
	Kind     ChannelKind `json:"kind"`
	Members  []string    `json:"members,omitempty"`
	PeerUser string      `json:"peer_user,omitempty"`
}

// IsDM reports whether the channel is a direct message. DM ids carry the
// platform's D prefix.
func IsDM(channelID string) bool {
	return strings.HasPrefix(channelID, "D")
}

var mpdmNameRe = regexp.MustCompile(`^mpdm-(.+)-\d+$`)

// DisplayName derives a human-readable channel name. Group-DM names come
// from membership first, falling back to parsing the canonical
// "mpdm-<name1>--<name2>-<N>" format with the requester filtered out.
func (c *Channel) DisplayName(requester string, userNames map[string]string) string {
	switch c.Kind {
	case ChannelDM:
		if name, ok := userNames[c.PeerUser]; ok && name != "" {
			return name
		}
		if c.PeerUser != "" {
			return c.PeerUser
		}
	case ChannelGroupDM:
		if len(c.Members) > 0 {
			names := make([]string, 0, len(c.Members))
			for _, m := range c.Members {
				if m == requester {
					continue
				}
				if name, ok := userNames[m]; ok && name != "" {
					names = append(names, name)
				} else {
					names = append(names, m)
				}
			}
			if len(names) > 0 {
				sort.Strings(names)
				return strings.Join(names, ", ")
			}
		}
		if sub := mpdmNameRe.FindStringSubmatch(c.Name); sub != nil {
			parts := strings.Split(sub[1], "--")
			kept := parts[:0]
			requesterName := userNames[requester]
			for _, p := range parts {
				if p == "" || p == requesterName {
					continue
				}
				kept = append(kept, p)
			}
			if len(kept) > 0 {
				return strings.Join(kept, ", ")
			}
		}
	}
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Message-link URL shape: /archives/<CHANNEL>/p<digits>(?query). The
// digits split as 10.6 to form the canonical ts.
var messageLinkRe = regexp.MustCompile(`https?://[A-Za-z0-9.-]+\.slack\.com/archives/([A-Z0-9]+)/p(\d{16,17})(?:\?[^\s>|]*)?`)

// MessageLink is a parsed intra-platform message permalink.
type MessageLink struct {
	ChannelID string
	TS        string
	ThreadTS  string
	Raw       string
}

// ParseMessageLinks extracts all message permalinks from text.
func ParseMessageLinks(text string) []MessageLink {
	matches := messageLinkRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]MessageLink, 0, len(matches))
	for _, m := range matches {
		link := MessageLink{
			ChannelID: m[1],
			TS:        SplitLinkTS(m[2]),
			Raw:       m[0],
		}
		if idx := strings.Index(m[0], "thread_ts="); idx >= 0 {
			rest := m[0][idx+len("thread_ts="):]
			if amp := strings.IndexAny(rest, "&>|"); amp >= 0 {
				rest = rest[:amp]
			}
			link.ThreadTS = rest
		}
		links = append(links, link)
	}
	return links
}

// SplitLinkTS converts the URL-form digit run into "seconds.micros".
func SplitLinkTS(digits string) string {
	if len(digits) < 16 {
		return digits
	}
	return fmt.Sprintf("%s.%s", digits[:10], digits[10:16])
}

// ChannelURL is the fallback permalink when chat.getPermalink fails.
func ChannelURL(teamDomain, channelID string) string {
	if teamDomain == "" {
		teamDomain = "app"
	}
	return fmt.Sprintf("https://%s.slack.com/archives/%s", teamDomain, channelID)
}
