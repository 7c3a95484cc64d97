// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/streamwarden/internal/limiter"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/probe"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/ManuGH/streamwarden/internal/udi"
	"github.com/ManuGH/streamwarden/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// fakeUpstream serves both as the index source and as the engine's
// mutation surface, so membership writes round-trip through refreshes.
type fakeUpstream struct {
	mu           sync.Mutex
	streams      []model.Stream
	channels     map[int64]model.Channel
	groups       []model.ChannelGroup
	accounts     []model.M3UAccount
	sessions     []model.ProxySession
	m3uRefreshes int
	refreshErr   error
	writeErr     error
	writes       map[int64][][]int64
	onM3URefresh func(f *fakeUpstream)
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		channels: make(map[int64]model.Channel),
		writes:   make(map[int64][][]int64),
	}
}

func (f *fakeUpstream) ListStreams(context.Context, upstream.StreamFilter) ([]model.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Stream(nil), f.streams...), nil
}

func (f *fakeUpstream) ListChannels(context.Context) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUpstream) ListChannelGroups(context.Context) ([]model.ChannelGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChannelGroup(nil), f.groups...), nil
}

func (f *fakeUpstream) ListM3UAccounts(context.Context) ([]model.M3UAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.M3UAccount(nil), f.accounts...), nil
}

func (f *fakeUpstream) ProxySessions(context.Context) ([]model.ProxySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProxySession(nil), f.sessions...), nil
}

func (f *fakeUpstream) RefreshAllM3U(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m3uRefreshes++
	if f.onM3URefresh != nil {
		f.onM3URefresh(f)
	}
	return f.refreshErr
}

func (f *fakeUpstream) UpdateChannelStreams(_ context.Context, channelID int64, streamIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return errors.New("channel not found")
	}
	ch.Streams = append([]int64(nil), streamIDs...)
	f.channels[channelID] = ch
	f.writes[channelID] = append(f.writes[channelID], append([]int64(nil), streamIDs...))
	return nil
}

func (f *fakeUpstream) addChannel(ch model.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID] = ch
}

func (f *fakeUpstream) channel(id int64) model.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[id]
}

func (f *fakeUpstream) writeCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes[id])
}

func (f *fakeUpstream) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m3uRefreshes
}

type engineFixture struct {
	eng     *Engine
	up      *fakeUpstream
	index   *udi.Index
	queue   *queue.Queue
	stores  *state.Stores
	results *probe.Store
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	stores, err := state.Open(t.TempDir())
	require.NoError(t, err)

	results, err := probe.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	up := newFakeUpstream()
	f := &engineFixture{
		up:      up,
		index:   udi.New(up),
		queue:   queue.New(),
		stores:  stores,
		results: results,
	}
	f.eng = New(Deps{
		Index:    f.index,
		Upstream: f.up,
		Queue:    f.queue,
		Limiter:  limiter.New(),
		Results:  f.results,
		Stores:   stores,
	})
	return f
}

func (f *engineFixture) reload(t *testing.T) {
	t.Helper()
	require.NoError(t, f.index.RefreshAll(context.Background()))
}

func i64(v int64) *int64 { return &v }

func TestPlaylistTickMatchesAndQueues(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "CNN HD", URL: "http://e/1", M3UAccountID: i64(1)},
		{ID: 2, Name: "US: CNN HD Premium", URL: "http://e/2", M3UAccountID: i64(1)},
		{ID: 3, Name: "BBC One", URL: "http://e/3", M3UAccountID: i64(1)},
	}
	f.up.accounts = []model.M3UAccount{{ID: 1, Name: "A"}}
	f.up.addChannel(model.Channel{ID: 100, Name: "CNN HD", Streams: []int64{}})
	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: ".*CHANNEL_NAME.*", Enabled: true},
	}))

	require.NoError(t, f.eng.playlistTick(ctx))

	assert.Equal(t, 1, f.up.refreshCount())
	assert.Equal(t, []int64{1, 2}, f.up.channel(100).Streams)
	assert.True(t, f.queue.IsQueued(100), "changed channel queued for checking")

	got, ok := f.index.Channel(100)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, got.Streams, "index reloaded after membership write")

	st := f.eng.Status()
	assert.NotNil(t, st.LastPlaylistUpdate)
	assert.True(t, st.StreamCheckingMode, "queued work flips checking mode")
	assert.Zero(t, st.ProbeConnections)
}

func TestPlaylistTickSkipsDisabledAndPatternlessChannels(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "Sky Sport", URL: "http://e/1", M3UAccountID: i64(1)},
	}
	f.up.addChannel(model.Channel{ID: 100, Name: "Sky Sport", Streams: []int64{}})
	f.up.addChannel(model.Channel{ID: 101, Name: "Sky Sport", Streams: []int64{}})
	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: "CHANNEL_NAME", Enabled: true},
	}))
	// 101 has only a disabled pattern
	require.NoError(t, f.stores.Regex.SetAll(101, []model.PatternRecord{
		{Pattern: "CHANNEL_NAME", Enabled: false},
	}))
	require.NoError(t, f.stores.Settings.SetChannel(100, model.ChannelSettings{
		MatchingMode: model.ToggleDisabled,
	}))

	require.NoError(t, f.eng.playlistTick(ctx))

	assert.Zero(t, f.up.writeCount(100), "matching-disabled channel untouched")
	assert.Zero(t, f.up.writeCount(101), "channel without enabled patterns untouched")
	assert.Zero(t, f.queue.Len())
}

func TestPlaylistTickHonorsChannelImmunity(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "ZDF HD", URL: "http://e/1", M3UAccountID: i64(1)},
	}
	f.up.addChannel(model.Channel{ID: 100, Name: "ZDF HD", Streams: []int64{}})
	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: "CHANNEL_NAME", Enabled: true},
	}))
	// checked moments ago: inside the default 2h window
	require.NoError(t, f.stores.Updates.Record(100, 0))

	require.NoError(t, f.eng.playlistTick(ctx))

	assert.Equal(t, []int64{1}, f.up.channel(100).Streams, "membership still updated")
	assert.False(t, f.queue.IsQueued(100), "recently checked channel not re-queued")
}

func TestPlaylistTickUpstreamFailureSkipsCycle(t *testing.T) {
	f := newEngineFixture(t)
	f.up.refreshErr = errors.New("upstream down")

	err := f.eng.playlistTick(context.Background())
	require.Error(t, err)

	assert.False(t, f.index.Loaded(), "index untouched after failed refresh")
	assert.Zero(t, f.queue.Len())

	entries := f.stores.Changelog.Window(1)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, state.ActionPlaylistRefresh, last.Action)
	assert.False(t, last.Success)
}

func TestGlobalActionClearsDeadAndForceQueuesAll(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "One", URL: "http://e/1", M3UAccountID: i64(1)},
	}
	f.up.accounts = []model.M3UAccount{{ID: 1, Name: "A", MaxStreams: 2}}
	f.up.addChannel(model.Channel{ID: 100, Name: "One", Streams: []int64{1}})
	f.up.addChannel(model.Channel{ID: 101, Name: "Two", Streams: []int64{}})
	require.NoError(t, f.stores.Dead.MarkDead(7, "old"))
	require.NoError(t, f.stores.Dead.MarkDead(8, "old"))

	require.NoError(t, f.eng.runGlobalAction(ctx))

	assert.Zero(t, f.stores.Dead.Len(), "dead set cleared")
	assert.Equal(t, 1, f.up.refreshCount())
	assert.True(t, f.queue.IsQueued(100))
	assert.True(t, f.queue.IsQueued(101))
	for _, e := range f.queue.Pending() {
		assert.True(t, e.Force, "global action queues with force")
	}

	st := f.eng.Status()
	assert.NotNil(t, st.LastGlobalAction)
	assert.False(t, st.GlobalActionInProgress)
}

func TestGlobalActionInProgressChannelGetsForceFlag(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.addChannel(model.Channel{ID: 100, Name: "Busy", Streams: []int64{}})

	// simulate a check in flight
	require.True(t, f.queue.Enqueue(100, 0, false))
	_, ok := f.queue.Dequeue()
	require.True(t, ok)

	require.NoError(t, f.eng.runGlobalAction(ctx))

	assert.False(t, f.queue.IsQueued(100), "in-progress channel not double-queued")
	st, found := f.stores.Updates.Get(100)
	require.True(t, found)
	assert.True(t, st.ForceCheckRequested, "intent preserved in the tracker")
}

func TestTriggerGlobalActionRejectsWhenPendingOrActive(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.eng.TriggerGlobalAction())
	assert.ErrorIs(t, f.eng.TriggerGlobalAction(), ErrBusy, "second trigger while one is pending")

	<-f.eng.globalCh // drain the pending trigger
	f.eng.globalActive.Store(true)
	assert.ErrorIs(t, f.eng.TriggerGlobalAction(), ErrBusy, "trigger while action runs")
}

func TestMutatingTriggersRejectWhileChecking(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.addChannel(model.Channel{ID: 100, Name: "X", Streams: []int64{}})
	f.reload(t)
	require.True(t, f.queue.Enqueue(100, 0, false))
	require.True(t, f.eng.StreamCheckingMode())

	assert.ErrorIs(t, f.eng.RefreshPlaylist(ctx), ErrBusy)
	_, err := f.eng.DiscoverStreams(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.eng.RescoreResortAll(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.eng.ApplyAccountLimits(ctx)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestDiscoverStreamsForceQueuesDespiteImmunity(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "Arte HD", URL: "http://e/1", M3UAccountID: i64(1)},
	}
	f.up.addChannel(model.Channel{ID: 100, Name: "Arte HD", Streams: []int64{}})
	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: "CHANNEL_NAME", Enabled: true},
	}))
	require.NoError(t, f.stores.Updates.Record(100, 0))
	f.reload(t)

	changed, err := f.eng.DiscoverStreams(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Zero(t, f.up.refreshCount(), "discover does not re-pull playlists")

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(100), pending[0].ChannelID)
	assert.True(t, pending[0].Force, "force bypasses channel immunity")
}

func TestRescoreResortReordersFromCachedStats(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "S1", URL: "http://e/1", M3UAccountID: i64(1)},
		{ID: 2, Name: "S2", URL: "http://e/2", M3UAccountID: i64(1)},
		{ID: 3, Name: "S3", URL: "http://e/3", M3UAccountID: i64(1)},
	}
	f.up.accounts = []model.M3UAccount{{ID: 1, Name: "A"}}
	f.up.addChannel(model.Channel{ID: 100, Name: "C", Streams: []int64{1, 2, 3}})
	// 200 has no cached stats at all and must be skipped
	f.up.addChannel(model.Channel{ID: 200, Name: "D", Streams: []int64{3}})
	f.reload(t)

	low, high := 2000.0, 6000.0
	require.NoError(t, f.results.Put(1, model.ProbeResult{
		Status: model.ProbeOK, Width: 1280, Height: 720, FPS: 25,
		VideoCodec: "h264", BitrateKbps: &low, LastCheckedAt: time.Now(),
	}))
	require.NoError(t, f.results.Put(2, model.ProbeResult{
		Status: model.ProbeOK, Width: 1920, Height: 1080, FPS: 50,
		VideoCodec: "hevc", BitrateKbps: &high, LastCheckedAt: time.Now(),
	}))

	written, err := f.eng.RescoreResortAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	// stream 3 has no stats: scored zero, kept at the tail
	assert.Equal(t, []int64{2, 1, 3}, f.up.channel(100).Streams)
	assert.Zero(t, f.up.writeCount(200), "channel without stats skipped")

	// idempotent: a second pass changes nothing
	written, err = f.eng.RescoreResortAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestApplyAccountLimitsTrimsExistingMembership(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.up.streams = []model.Stream{
		{ID: 1, Name: "A1", URL: "u1", M3UAccountID: i64(1)},
		{ID: 2, Name: "A2", URL: "u2", M3UAccountID: i64(1)},
		{ID: 3, Name: "A3", URL: "u3", M3UAccountID: i64(1)},
		{ID: 4, Name: "B1", URL: "u4", M3UAccountID: i64(2)},
		{ID: 5, Name: "Custom", URL: "u5", IsCustom: true},
	}
	f.up.accounts = []model.M3UAccount{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	f.up.addChannel(model.Channel{ID: 100, Name: "C", Streams: []int64{1, 2, 3, 4, 5}})
	f.reload(t)

	cfg := model.DefaultStreamCheckerConfig()
	cfg.AccountLimits = model.AccountLimitsConfig{GlobalLimit: 2}
	require.NoError(t, f.stores.Config.SetChecker(cfg))

	written, err := f.eng.ApplyAccountLimits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	assert.Equal(t, []int64{1, 2, 4, 5}, f.up.channel(100).Streams,
		"third account-A stream trimmed, custom stream exempt")

	// already within limits: second pass writes nothing
	written, err = f.eng.ApplyAccountLimits(ctx)
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestCheckSingleChannel(t *testing.T) {
	f := newEngineFixture(t)

	f.up.addChannel(model.Channel{ID: 100, Name: "C", Streams: []int64{}})
	f.reload(t)

	var fieldErr *model.FieldError
	err := f.eng.CheckSingleChannel(999)
	require.Error(t, err)
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, "channel_id", fieldErr.Field)

	require.NoError(t, f.eng.CheckSingleChannel(100))
	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, singleCheckPriority, pending[0].Priority)
	assert.True(t, pending[0].Force)

	// while in progress, the intent lands in the tracker instead
	_, ok := f.queue.Dequeue()
	require.True(t, ok)
	require.NoError(t, f.eng.CheckSingleChannel(100))
	st, found := f.stores.Updates.Get(100)
	require.True(t, found)
	assert.True(t, st.ForceCheckRequested)
}

func TestQueueAddAndClear(t *testing.T) {
	f := newEngineFixture(t)

	f.up.addChannel(model.Channel{ID: 100, Name: "C", Streams: []int64{}})
	f.reload(t)

	queued := f.eng.QueueAdd([]int64{100, 999}, 5)
	assert.Equal(t, 1, queued, "unknown channel skipped")
	assert.Equal(t, 1, f.queue.Len())

	assert.Equal(t, 1, f.eng.QueueClear())
	assert.Zero(t, f.queue.Len())
}

func TestTestStreamsWithoutStats(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	auto := model.DefaultAutomationConfig()
	auto.PriorityOnlyAccountIDs = []int64{7}
	require.NoError(t, f.stores.Config.SetAutomation(auto))

	f.up.streams = []model.Stream{
		{ID: 1, Name: "S1", URL: "u1", M3UAccountID: i64(1)},
		{ID: 2, Name: "S2", URL: "u2", M3UAccountID: i64(1)},
		{ID: 3, Name: "S3", URL: "u3", M3UAccountID: i64(1)},
		{ID: 40, Name: "P", URL: "u40", M3UAccountID: i64(7)},
	}
	f.up.addChannel(model.Channel{ID: 100, Name: "Partial", Streams: []int64{1, 2}})
	f.up.addChannel(model.Channel{ID: 300, Name: "Covered", Streams: []int64{3}})
	f.up.addChannel(model.Channel{ID: 400, Name: "PriorityOnly", Streams: []int64{40}})
	f.up.addChannel(model.Channel{ID: 500, Name: "Disabled", Streams: []int64{2}})
	require.NoError(t, f.stores.Settings.SetChannel(500, model.ChannelSettings{
		CheckingMode: model.ToggleDisabled,
	}))
	f.reload(t)

	require.NoError(t, f.results.Put(1, model.ProbeResult{Status: model.ProbeOK, LastCheckedAt: time.Now()}))
	require.NoError(t, f.results.Put(3, model.ProbeResult{Status: model.ProbeOK, LastCheckedAt: time.Now()}))

	queued, err := f.eng.TestStreamsWithoutStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.True(t, f.queue.IsQueued(100), "channel with an unprobed stream queued")
	assert.False(t, f.queue.IsQueued(300))
	assert.False(t, f.queue.IsQueued(400), "priority-only streams never need stats")
	assert.False(t, f.queue.IsQueued(500), "checking-disabled channel skipped")
}

func TestPruneResultsDropsDepartedStreams(t *testing.T) {
	f := newEngineFixture(t)
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, f.results.Put(2, model.ProbeResult{Status: model.ProbeOK, LastCheckedAt: old}))

	// before the first successful refresh the prune is a no-op
	f.eng.pruneResults()
	_, found, err := f.results.Get(2)
	require.NoError(t, err)
	assert.True(t, found)

	f.up.streams = []model.Stream{
		{ID: 1, Name: "Live", URL: "u1", M3UAccountID: i64(1)},
	}
	f.reload(t)
	require.NoError(t, f.results.Put(1, model.ProbeResult{Status: model.ProbeOK, LastCheckedAt: old}))
	require.NoError(t, f.results.Put(3, model.ProbeResult{Status: model.ProbeError, LastCheckedAt: time.Now()}))

	f.eng.pruneResults()

	_, found, err = f.results.Get(1)
	require.NoError(t, err)
	assert.True(t, found, "indexed stream keeps its result")
	_, found, err = f.results.Get(2)
	require.NoError(t, err)
	assert.False(t, found, "departed stream pruned")
	_, found, err = f.results.Get(3)
	require.NoError(t, err)
	assert.True(t, found, "recent result survives a playlist glitch")

	assert.Equal(t, 2, f.eng.Status().CachedResults)
}

func TestTestRegexLive(t *testing.T) {
	f := newEngineFixture(t)

	f.up.streams = []model.Stream{
		{ID: 1, Name: "CNN HD", URL: "u1", M3UAccountID: i64(1)},
		{ID: 2, Name: "US: CNN HD Premium", URL: "u2", M3UAccountID: i64(1)},
		{ID: 3, Name: "BBC One", URL: "u3", M3UAccountID: i64(1)},
	}
	f.up.addChannel(model.Channel{ID: 100, Name: "CNN HD", Streams: []int64{}})
	f.reload(t)

	_, err := f.eng.TestRegexLive(RegexTestRequest{})
	require.Error(t, err, "empty pattern list rejected")

	results, err := f.eng.TestRegexLive(RegexTestRequest{
		Patterns:  []string{".*CHANNEL_NAME.*", "["},
		ChannelID: i64(100),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, 2, results[0].MatchCount)
	assert.Len(t, results[0].Matches, 2)
	assert.Empty(t, results[0].Error)

	assert.NotEmpty(t, results[1].Error, "invalid pattern reports compile error")
	assert.Zero(t, results[1].MatchCount)

	capped, err := f.eng.TestRegexLive(RegexTestRequest{
		Patterns:   []string{"CNN"},
		MaxMatches: 1,
	})
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, 2, capped[0].MatchCount, "count reflects all matches")
	assert.Len(t, capped[0].Matches, 1, "sample capped at max_matches")

	_, err = f.eng.TestRegexLive(RegexTestRequest{
		Patterns:  []string{"x"},
		ChannelID: i64(999),
	})
	require.Error(t, err, "unknown channel rejected")
}

func TestReloadSchedulesInstallsAndRemovesCron(t *testing.T) {
	f := newEngineFixture(t)

	auto := model.DefaultAutomationConfig()
	auto.GlobalActionCron = "0 3 * * *"
	require.NoError(t, f.stores.Config.SetAutomation(auto))

	f.eng.ReloadSchedules()
	f.eng.cronMu.Lock()
	assert.NotNil(t, f.eng.cron, "cron installed for the global action")
	f.eng.cronMu.Unlock()

	auto.GlobalActionCron = ""
	require.NoError(t, f.stores.Config.SetAutomation(auto))
	f.eng.ReloadSchedules()
	f.eng.cronMu.Lock()
	assert.Nil(t, f.eng.cron, "cron removed when no expressions remain")
	f.eng.cronMu.Unlock()

	// invalid expressions are rejected without installing anything
	auto.GlobalActionCron = "not a cron"
	require.NoError(t, f.stores.Config.SetAutomation(auto))
	f.eng.ReloadSchedules()
	f.eng.cronMu.Lock()
	assert.Nil(t, f.eng.cron)
	f.eng.cronMu.Unlock()

	f.eng.stopCron()
}

func TestApplyCommonPattern(t *testing.T) {
	f := newEngineFixture(t)

	f.up.addChannel(model.Channel{ID: 100, Name: "A", Streams: []int64{}})
	f.up.addChannel(model.Channel{ID: 101, Name: "B", Streams: []int64{}})
	f.reload(t)
	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: ".*CHANNEL_NAME.*", Enabled: false},
	}))

	_, err := f.eng.ApplyCommonPattern(nil, "")
	require.Error(t, err, "channel list required")

	_, err = f.eng.ApplyCommonPattern([]int64{100}, "[")
	require.Error(t, err, "pattern must compile")

	updated, err := f.eng.ApplyCommonPattern([]int64{100, 101, 999}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, updated, "only the channel missing the pattern")

	assert.Len(t, f.stores.Regex.Patterns(100), 1, "duplicate not appended")
	got := f.stores.Regex.Patterns(101)
	require.Len(t, got, 1)
	assert.Equal(t, ".*CHANNEL_NAME.*", got[0].Pattern)
	assert.True(t, got[0].Enabled)
}

func TestSetPatternsEnabled(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: "a", Enabled: true},
		{Pattern: "b", Enabled: false},
	}))
	require.NoError(t, f.stores.Regex.SetAll(101, []model.PatternRecord{
		{Pattern: "c", Enabled: false},
	}))

	updated, err := f.eng.SetPatternsEnabled([]int64{100, 101, 102}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, updated, "101 already disabled, 102 has no patterns")

	for _, rec := range f.stores.Regex.Patterns(100) {
		assert.False(t, rec.Enabled)
	}
}

func TestMassEditPatterns(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, f.stores.Regex.SetAll(100, []model.PatternRecord{
		{Pattern: "CHANNEL_NAME HD", Enabled: true},
		{Pattern: "other", Enabled: true},
	}))
	require.NoError(t, f.stores.Regex.SetAll(101, []model.PatternRecord{
		{Pattern: "US: CHANNEL_NAME HD", Enabled: true},
	}))

	// preview does not touch the store
	edits, err := f.eng.MassEditPatterns(`HD$`, "FHD", false)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, int64(100), edits[0].ChannelID)
	assert.Equal(t, "CHANNEL_NAME FHD", edits[0].New)
	assert.Equal(t, "CHANNEL_NAME HD", f.stores.Regex.Patterns(100)[0].Pattern)

	// apply rewrites and persists
	edits, err = f.eng.MassEditPatterns(`HD$`, "FHD", true)
	require.NoError(t, err)
	require.Len(t, edits, 2)
	assert.Equal(t, "CHANNEL_NAME FHD", f.stores.Regex.Patterns(100)[0].Pattern)
	assert.Equal(t, "other", f.stores.Regex.Patterns(100)[1].Pattern)
	assert.Equal(t, "US: CHANNEL_NAME FHD", f.stores.Regex.Patterns(101)[0].Pattern)

	// a rewrite that would break compilation is rejected wholesale
	_, err = f.eng.MassEditPatterns(`FHD`, "[", true)
	require.Error(t, err)
	assert.Equal(t, "CHANNEL_NAME FHD", f.stores.Regex.Patterns(100)[0].Pattern, "store untouched")

	_, err = f.eng.MassEditPatterns("", "x", false)
	require.Error(t, err, "find expression required")
}

type blockingChecker struct{ started chan struct{} }

func (c *blockingChecker) Run(ctx context.Context) error {
	close(c.started)
	<-ctx.Done()
	return nil
}

func TestRunLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	stores, err := state.Open(t.TempDir())
	require.NoError(t, err)

	// closed before the leak check runs
	results, err := probe.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = results.Close() }()

	up := newFakeUpstream()
	up.addChannel(model.Channel{ID: 100, Name: "C", Streams: []int64{}})

	q := queue.New()
	chk := &blockingChecker{started: make(chan struct{})}
	eng := New(Deps{
		Index:    udi.New(up),
		Upstream: up,
		Queue:    q,
		Limiter:  limiter.New(),
		Results:  results,
		Stores:   stores,
		Checker:  chk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	select {
	case <-chk.started:
	case <-time.After(5 * time.Second):
		t.Fatal("checker not started")
	}
	require.Eventually(t, func() bool { return eng.Status().AutomationRunning }, time.Second, 10*time.Millisecond)
	assert.True(t, eng.Status().StreamCheckerRunning)

	// a triggered global action runs on the engine loop
	require.NoError(t, eng.TriggerGlobalAction())
	require.Eventually(t, func() bool {
		return eng.Status().LastGlobalAction != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, q.IsQueued(100))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.False(t, eng.Status().AutomationRunning)
}
