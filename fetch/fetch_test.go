package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklog-sh/worklog/internal/timespan"
	"github.com/worklog-sh/worklog/slack"
	"github.com/worklog-sh/worklog/store/db/sqlite"
)

// fakeAPI implements slack.API with scripted responses and call counting.
type fakeAPI struct {
	mu sync.Mutex

	searchErr     error
	searchResults map[string][]slack.SearchMessage
	searchQueries []string

	history      map[string][]slack.Message
	historyCalls map[string]int

	replies      map[string][]slack.Message
	repliesCalls map[string]int

	channelInfo    map[string]slack.Channel
	memberChannels []slack.Channel

	reactions      []slack.ReactedItem
	reactionsCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		searchResults: map[string][]slack.SearchMessage{},
		history:       map[string][]slack.Message{},
		historyCalls:  map[string]int{},
		replies:       map[string][]slack.Message{},
		repliesCalls:  map[string]int{},
		channelInfo:   map[string]slack.Channel{},
	}
}

func (f *fakeAPI) AuthTest(context.Context) (string, string, error) { return "U1", "acme", nil }

func (f *fakeAPI) SearchMessages(_ context.Context, query string, _ int) ([]slack.SearchMessage, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchQueries = append(f.searchQueries, query)
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.searchResults[query], 1, nil
}

func (f *fakeAPI) ConversationHistory(_ context.Context, channelID, oldest, latest, _ string) ([]slack.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls[channelID]++

	lo, _ := strconv.ParseFloat(oldest, 64)
	hi, _ := strconv.ParseFloat(latest, 64)
	var out []slack.Message
	for _, m := range f.history[channelID] {
		ts := slack.ParseTS(m.TS)
		if ts >= lo && ts <= hi {
			out = append(out, m)
		}
	}
	return out, "", nil
}

func (f *fakeAPI) ConversationReplies(_ context.Context, channelID, threadTS, _ string) ([]slack.Message, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repliesCalls[channelID+":"+threadTS]++
	return f.replies[channelID+":"+threadTS], "", nil
}

func (f *fakeAPI) UserChannels(context.Context, string, string) ([]slack.Channel, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberChannels, "", nil
}

func (f *fakeAPI) ChannelInfo(_ context.Context, id string) (slack.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channelInfo[id]
	if !ok {
		return slack.Channel{}, errors.New("channel_not_found")
	}
	return ch, nil
}

func (f *fakeAPI) UserDisplayName(_ context.Context, userID string) (string, error) {
	return userID, nil
}

func (f *fakeAPI) ListUsers(context.Context) (map[string]string, error) { return nil, nil }

func (f *fakeAPI) ReactionsList(context.Context, string, int) ([]slack.ReactedItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionsCalls++
	return f.reactions, 1, nil
}

func (f *fakeAPI) Permalink(context.Context, string, string) (string, error) { return "", nil }

var _ slack.API = (*fakeAPI)(nil)

// Fixed clock: two full days after the day under test, so its buckets
// are complete and cacheable.
var (
	testNow   = time.Date(2026, 8, 12, 12, 0, 0, 0, time.UTC)
	testRange = timespan.Range{
		Start: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 10, 23, 59, 59, 0, time.UTC),
	}
)

func at(day, hour, min int) time.Time {
	return time.Date(2026, 8, day, hour, min, 0, 0, time.UTC)
}

func tsAt(day, hour, min int) string {
	return fmt.Sprintf("%d.000000", at(day, hour, min).Unix())
}

func msgAt(user string, day, hour, min int, text string) slack.Message {
	return slack.Message{TS: tsAt(day, hour, min), User: user, Text: text, Type: "message"}
}

func newFetcher(t *testing.T, api *fakeAPI) *Fetcher {
	t.Helper()
	st, err := sqlite.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(api, st, Options{
		Concurrency: 2,
		Timezone:    time.UTC,
		Now:         func() time.Time { return testNow },
	})
}

func TestFetchUserActivity(t *testing.T) {
	api := newFakeAPI()
	api.searchResults["from:<@U1> after:2026-08-09 before:2026-08-11"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(10, 9, 0)},
		{ChannelID: "C3", TS: tsAt(10, 10, 0)},
	}
	api.channelInfo["C1"] = slack.Channel{ID: "C1", Name: "eng", Kind: slack.ChannelPublic}
	api.channelInfo["C3"] = slack.Channel{ID: "C3", Name: "quiet", Kind: slack.ChannelPublic}
	api.history["C1"] = []slack.Message{
		msgAt("U2", 9, 15, 0, "yesterday's context"),
		msgAt("U1", 10, 9, 0, "morning update"),
		msgAt("U2", 10, 9, 5, "ack"),
	}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	require.Contains(t, data.Channels, "C1")
	act := data.Channels["C1"]
	assert.Equal(t, "eng", act.Channel.Name)
	assert.Len(t, act.Messages, 2, "only in-range main messages")
	assert.Len(t, act.AllMessages, 3, "lookback messages kept for context")
	assert.Equal(t, 1, act.MessagesSent)

	// Discovered but silent channels are dropped.
	assert.NotContains(t, data.Channels, "C3")

	require.NotEmpty(t, api.searchQueries)
	assert.Equal(t, "from:<@U1> after:2026-08-09 before:2026-08-11", api.searchQueries[0])
}

func TestFetchServesCompleteDaysFromCache(t *testing.T) {
	api := newFakeAPI()
	api.searchResults["from:<@U1> after:2026-08-09 before:2026-08-11"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(10, 9, 0)},
	}
	api.channelInfo["C1"] = slack.Channel{ID: "C1", Name: "eng", Kind: slack.ChannelPublic}
	api.history["C1"] = []slack.Message{msgAt("U1", 10, 9, 0, "hello")}

	f := newFetcher(t, api)
	_, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)
	firstRun := api.historyCalls["C1"]
	assert.Equal(t, 2, firstRun, "one call per day bucket of the extended range")

	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)
	assert.Equal(t, firstRun, api.historyCalls["C1"], "complete days are not refetched")
	assert.Len(t, data.Channels["C1"].Messages, 1)
}

func TestSkipCacheRefetchesEveryDay(t *testing.T) {
	api := newFakeAPI()
	api.searchResults["from:<@U1> after:2026-08-09 before:2026-08-11"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(10, 9, 0)},
	}
	api.channelInfo["C1"] = slack.Channel{ID: "C1", Name: "eng", Kind: slack.ChannelPublic}
	api.history["C1"] = []slack.Message{msgAt("U1", 10, 9, 0, "hello")}

	st, err := sqlite.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	warm := New(api, st, Options{Timezone: time.UTC, Now: func() time.Time { return testNow }})
	_, err = warm.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)
	warmed := api.historyCalls["C1"]

	f := New(api, st, Options{Timezone: time.UTC, SkipCache: true, Now: func() time.Time { return testNow }})
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)
	assert.Equal(t, 2*warmed, api.historyCalls["C1"], "watermarked days are refetched")
	assert.Len(t, data.Channels["C1"].Messages, 1)
}

func TestFetchRefetchesTheCurrentDay(t *testing.T) {
	api := newFakeAPI()
	today := timespan.Range{
		Start: time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC),
		End:   testNow,
	}
	api.searchResults["from:<@U1> after:2026-08-11 before:2026-08-13"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(12, 9, 0)},
	}
	api.channelInfo["C1"] = slack.Channel{ID: "C1", Name: "eng", Kind: slack.ChannelPublic}
	api.history["C1"] = []slack.Message{msgAt("U1", 12, 9, 0, "still today")}

	f := newFetcher(t, api)
	_, err := f.FetchUserActivity(context.Background(), "U1", "acme", today)
	require.NoError(t, err)
	assert.Equal(t, 2, api.historyCalls["C1"], "yesterday's lookback bucket plus today")

	_, err = f.FetchUserActivity(context.Background(), "U1", "acme", today)
	require.NoError(t, err)
	assert.Equal(t, 3, api.historyCalls["C1"], "only the in-progress day is refetched")
}

func TestDiscoveryFallsBackToChannelListing(t *testing.T) {
	api := newFakeAPI()
	api.searchErr = errors.New("search_not_available")
	api.memberChannels = []slack.Channel{{ID: "C2", Name: "ops", Kind: slack.ChannelPrivate}}
	api.history["C2"] = []slack.Message{msgAt("U1", 10, 11, 0, "restarted the worker")}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	require.Contains(t, data.Channels, "C2")
	assert.Equal(t, 1, data.Channels["C2"].MessagesSent)
}

func TestThreadSeedsFromSearch(t *testing.T) {
	api := newFakeAPI()
	parentTS := tsAt(8, 16, 0)
	staleTS := tsAt(7, 10, 0)
	api.searchResults["from:<@U1> after:2026-08-09 before:2026-08-11"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(10, 14, 0), ThreadTS: parentTS},
		{ChannelID: "C1", TS: tsAt(7, 10, 30), ThreadTS: staleTS},
	}
	api.channelInfo["C1"] = slack.Channel{ID: "C1", Name: "eng", Kind: slack.ChannelPublic}
	api.replies["C1:"+parentTS] = []slack.Message{
		{TS: parentTS, ThreadTS: parentTS, User: "U2", Text: "old question", Type: "message"},
		{TS: tsAt(9, 8, 0), ThreadTS: parentTS, User: "U2", Text: "pre-range reply", Type: "message"},
		{TS: tsAt(10, 14, 0), ThreadTS: parentTS, User: "U1", Text: "answered it", Type: "message"},
	}
	api.replies["C1:"+staleTS] = []slack.Message{
		{TS: staleTS, ThreadTS: staleTS, User: "U2", Text: "ancient thread", Type: "message"},
		{TS: tsAt(7, 11, 0), ThreadTS: staleTS, User: "U1", Text: "ancient reply", Type: "message"},
	}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	require.Contains(t, data.Channels, "C1")
	act := data.Channels["C1"]
	require.Len(t, act.Threads, 1, "threads without in-range replies are dropped")

	th := act.Threads[0]
	assert.Equal(t, parentTS, th.ParentTS)
	require.Len(t, th.Messages, 2, "parent kept, replies range-filtered")
	assert.Equal(t, "old question", th.Messages[0].Text)
	assert.Equal(t, "answered it", th.Messages[1].Text)
	assert.Equal(t, 1, act.MessagesSent, "in-range thread replies count as sent")
}

func TestOtherPeoplesThreadsAreNotFetched(t *testing.T) {
	api := newFakeAPI()
	api.searchResults["from:<@U1> after:2026-08-09 before:2026-08-11"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(10, 9, 0)},
	}
	api.channelInfo["C1"] = slack.Channel{ID: "C1", Name: "eng", Kind: slack.ChannelPublic}

	theirParent := msgAt("U2", 10, 8, 0, "team offsite planning thread")
	theirParent.ThreadTS = theirParent.TS
	ownParent := msgAt("U1", 10, 9, 0, "tracking the cache rollout here")
	ownParent.ThreadTS = ownParent.TS
	api.history["C1"] = []slack.Message{theirParent, ownParent}

	reply := msgAt("U3", 10, 10, 0, "booked the venue")
	reply.ThreadTS = theirParent.TS
	api.replies["C1:"+theirParent.TS] = []slack.Message{theirParent, reply}

	ownReply := msgAt("U2", 10, 10, 30, "rollout at half the fleet")
	ownReply.ThreadTS = ownParent.TS
	api.replies["C1:"+ownParent.TS] = []slack.Message{ownParent, ownReply}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	require.Contains(t, data.Channels, "C1")
	act := data.Channels["C1"]
	require.Len(t, act.Threads, 1, "only the user's own thread is fetched")
	assert.Equal(t, ownParent.TS, act.Threads[0].ParentTS)
	assert.Zero(t, api.repliesCalls["C1:"+theirParent.TS])
}

func TestSpectatorChannelIsDropped(t *testing.T) {
	// Under the listing fallback the user is a member everywhere; a
	// channel where only others spoke is not their activity.
	api := newFakeAPI()
	api.searchErr = errors.New("search_not_available")
	api.memberChannels = []slack.Channel{
		{ID: "C2", Name: "ops", Kind: slack.ChannelPrivate},
		{ID: "C4", Name: "random", Kind: slack.ChannelPublic},
	}
	api.history["C2"] = []slack.Message{msgAt("U1", 10, 11, 0, "restarted the worker")}
	api.history["C4"] = []slack.Message{
		msgAt("U7", 10, 12, 0, "lunch spot suggestions?"),
		msgAt("U8", 10, 12, 5, "the taco place"),
	}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	assert.Contains(t, data.Channels, "C2")
	assert.NotContains(t, data.Channels, "C4")
}

func TestFetchMentions(t *testing.T) {
	api := newFakeAPI()
	api.searchResults["<@U1> after:2026-08-09 before:2026-08-11"] = []slack.SearchMessage{
		{ChannelID: "C1", TS: tsAt(10, 10, 0), User: "U2", Text: "<@U1> can you look?"},
		{ChannelID: "C1", TS: tsAt(9, 10, 0), User: "U2", Text: "<@U1> outside the bucket"},
		{ChannelID: "C1", TS: tsAt(10, 11, 0), User: "U1", Text: "quoting <@U1> myself"},
	}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	require.Len(t, data.Mentions, 1)
	assert.Equal(t, "U2", data.Mentions[0].User)

	// The complete day is watermarked; a second run serves from cache.
	data, err = f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)
	assert.Len(t, data.Mentions, 1)

	mentionQueries := 0
	for _, q := range api.searchQueries {
		if strings.HasPrefix(q, "<@U1>") {
			mentionQueries++
		}
	}
	assert.Equal(t, 1, mentionQueries)
}

func TestFetchReactions(t *testing.T) {
	api := newFakeAPI()
	inRange := msgAt("U2", 10, 13, 0, "shipped the fix")
	tooOld := msgAt("U2", 1, 9, 0, "last week's news")
	api.reactions = []slack.ReactedItem{
		{ChannelID: "C1", Message: &inRange},
		{ChannelID: "C1", Message: &tooOld},
	}

	f := newFetcher(t, api)
	data, err := f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)

	require.Len(t, data.Reactions, 1)
	assert.Equal(t, "shipped the fix", data.Reactions[0].Message.Text)
	assert.Equal(t, 1, api.reactionsCalls)

	data, err = f.FetchUserActivity(context.Background(), "U1", "acme", testRange)
	require.NoError(t, err)
	assert.Len(t, data.Reactions, 1)
	assert.Equal(t, 1, api.reactionsCalls, "complete days serve reactions from cache")
}
