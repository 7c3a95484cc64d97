// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/ManuGH/streamwarden/internal/engine"
	"github.com/ManuGH/streamwarden/internal/health"
	"github.com/ManuGH/streamwarden/internal/limiter"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/probe"
	"github.com/ManuGH/streamwarden/internal/queue"
	"github.com/ManuGH/streamwarden/internal/state"
	"github.com/ManuGH/streamwarden/internal/udi"
	"github.com/ManuGH/streamwarden/internal/upstream"
	"github.com/stretchr/testify/require"
)

// testUpstream backs both the index and the engine's mutation surface.
type testUpstream struct {
	mu         sync.Mutex
	streams    []model.Stream
	channels   map[int64]model.Channel
	groups     []model.ChannelGroup
	accounts   []model.M3UAccount
	sessions   []model.ProxySession
	refreshErr error
	refreshes  int
}

func newTestUpstream() *testUpstream {
	return &testUpstream{channels: make(map[int64]model.Channel)}
}

func (f *testUpstream) ListStreams(context.Context, upstream.StreamFilter) ([]model.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Stream(nil), f.streams...), nil
}

func (f *testUpstream) ListChannels(context.Context) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *testUpstream) ListChannelGroups(context.Context) ([]model.ChannelGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChannelGroup(nil), f.groups...), nil
}

func (f *testUpstream) ListM3UAccounts(context.Context) ([]model.M3UAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.M3UAccount(nil), f.accounts...), nil
}

func (f *testUpstream) ProxySessions(context.Context) ([]model.ProxySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ProxySession(nil), f.sessions...), nil
}

func (f *testUpstream) RefreshAllM3U(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *testUpstream) UpdateChannelStreams(_ context.Context, channelID int64, streamIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return errors.New("channel not found")
	}
	ch.Streams = append([]int64(nil), streamIDs...)
	f.channels[channelID] = ch
	return nil
}

func (f *testUpstream) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fixture struct {
	t      *testing.T
	cfg    Config
	up     *testUpstream
	index  *udi.Index
	queue  *queue.Queue
	stores *state.Stores
	eng    *engine.Engine
	ts     *httptest.Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	stores, err := state.Open(t.TempDir())
	require.NoError(t, err)

	results, err := probe.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = results.Close() })

	up := newTestUpstream()
	index := udi.New(up)
	q := queue.New()

	eng := engine.New(engine.Deps{
		Index:    index,
		Upstream: up,
		Queue:    q,
		Limiter:  limiter.New(),
		Results:  results,
		Stores:   stores,
	})

	hm := health.NewManager("test")
	hm.Register("index", func(context.Context) error {
		if !index.Loaded() {
			return errors.New("index not loaded")
		}
		return nil
	})

	srv := New(cfg, Deps{Engine: eng, Index: index, Queue: q, Stores: stores, Health: hm})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{t: t, cfg: cfg, up: up, index: index, queue: q, stores: stores, eng: eng, ts: ts}
}

// seedBasic loads one account, two groups (one empty) and two channels:
// CNN in group 10 and MTV without a group.
func (f *fixture) seedBasic() {
	f.up.accounts = []model.M3UAccount{{ID: 1, Name: "main", MaxStreams: 2, Priority: 5}}
	f.up.groups = []model.ChannelGroup{
		{ID: 10, Name: "News", ChannelCount: 1},
		{ID: 20, Name: "Empty"},
	}
	f.up.streams = []model.Stream{
		{ID: 1, Name: "CNN HD", URL: "http://cdn/1", M3UAccountID: i64(1)},
		{ID: 2, Name: "CNN FHD", URL: "http://cdn/2", M3UAccountID: i64(1)},
		{ID: 3, Name: "MTV", URL: "http://cdn/3", M3UAccountID: i64(1)},
	}
	f.up.channels[100] = model.Channel{ID: 100, Name: "CNN", Number: 1, ChannelGroupID: i64(10)}
	f.up.channels[200] = model.Channel{ID: 200, Name: "MTV", Number: 2}
	f.reload()
}

func (f *fixture) reload() {
	f.t.Helper()
	require.NoError(f.t, f.index.RefreshAll(context.Background()))
}

// do issues a request with the fixture's token attached and decodes
// the JSON response into out when non-nil.
func (f *fixture) do(method, path string, body, out any) int {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(f.t, err)
	if f.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIToken)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode
}

func (f *fixture) get(path string, out any) int        { return f.do(http.MethodGet, path, nil, out) }
func (f *fixture) post(path string, body, out any) int { return f.do(http.MethodPost, path, body, out) }
func (f *fixture) put(path string, body, out any) int  { return f.do(http.MethodPut, path, body, out) }

// errFields is the error envelope clients see on 4xx.
type errFields struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func i64(v int64) *int64 { return &v }
