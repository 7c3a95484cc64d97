// SPDX-License-Identifier: MIT

// Package udi maintains the unified data index: an in-memory view of
// the upstream's streams, channels, groups, accounts and live proxy
// sessions. Each collection is held as an immutable snapshot behind an
// atomic pointer, so lookups are O(1) and never block a refresh.
package udi

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/ManuGH/streamwarden/internal/upstream"
	"github.com/rs/zerolog"
)

// Source is the slice of the upstream client the index consumes.
type Source interface {
	ListStreams(ctx context.Context, filter upstream.StreamFilter) ([]model.Stream, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListChannelGroups(ctx context.Context) ([]model.ChannelGroup, error)
	ListM3UAccounts(ctx context.Context) ([]model.M3UAccount, error)
	ProxySessions(ctx context.Context) ([]model.ProxySession, error)
}

// Index holds the current snapshots. The zero value is not usable;
// construct with New.
type Index struct {
	source Source
	logger zerolog.Logger

	streams  atomic.Pointer[streamSnapshot]
	channels atomic.Pointer[channelSnapshot]
	groups   atomic.Pointer[groupSnapshot]
	accounts atomic.Pointer[accountSnapshot]
	sessions atomic.Pointer[sessionSnapshot]

	// serializes refreshes so two concurrent RefreshAll calls do not
	// interleave partially built views
	refreshMu sync.Mutex

	loaded      atomic.Bool
	lastRefresh atomic.Int64 // unix nanos

	urlCacheMu sync.Mutex
	urlCache   map[int64]*compiledPattern
}

type compiledPattern struct {
	pattern string
	re      *regexp.Regexp
}

// New returns an index with empty snapshots. Lookups on a fresh index
// return zero values until the first refresh completes.
func New(source Source) *Index {
	ix := &Index{
		source:   source,
		logger:   log.WithComponent("udi"),
		urlCache: make(map[int64]*compiledPattern),
	}
	ix.streams.Store(newStreamSnapshot(nil))
	ix.channels.Store(newChannelSnapshot(nil))
	ix.groups.Store(newGroupSnapshot(nil))
	ix.accounts.Store(newAccountSnapshot(nil))
	ix.sessions.Store(newSessionSnapshot(nil))
	return ix
}

// RefreshAll rebuilds every collection. Accounts load first so that
// session and profile lookups resolve against current data.
func (ix *Index) RefreshAll(ctx context.Context) error {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()

	start := time.Now()
	if err := ix.refreshAccountsLocked(ctx); err != nil {
		return fmt.Errorf("refresh accounts: %w", err)
	}
	if err := ix.refreshGroupsLocked(ctx); err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}
	if err := ix.refreshChannelsLocked(ctx); err != nil {
		return fmt.Errorf("refresh channels: %w", err)
	}
	if err := ix.refreshStreamsLocked(ctx); err != nil {
		return fmt.Errorf("refresh streams: %w", err)
	}
	if err := ix.refreshSessionsLocked(ctx); err != nil {
		return fmt.Errorf("refresh sessions: %w", err)
	}

	ix.loaded.Store(true)
	ix.lastRefresh.Store(time.Now().UnixNano())
	ix.logger.Info().
		Str("event", "udi.refresh.complete").
		Int("streams", ix.StreamCount()).
		Int("channels", len(ix.Channels())).
		Int("accounts", len(ix.Accounts())).
		Dur("duration", time.Since(start)).
		Msg("index refreshed")
	return nil
}

// RefreshStreams reloads only the stream collection.
func (ix *Index) RefreshStreams(ctx context.Context) error {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()
	return ix.refreshStreamsLocked(ctx)
}

// RefreshChannels reloads only the channel collection.
func (ix *Index) RefreshChannels(ctx context.Context) error {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()
	return ix.refreshChannelsLocked(ctx)
}

// RefreshAccounts reloads accounts and their profiles.
func (ix *Index) RefreshAccounts(ctx context.Context) error {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()
	return ix.refreshAccountsLocked(ctx)
}

// RefreshGroups reloads only the channel-group collection.
func (ix *Index) RefreshGroups(ctx context.Context) error {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()
	return ix.refreshGroupsLocked(ctx)
}

// RefreshSessions reloads the live proxy-session view. Called on every
// availability poll, so it stays cheap on the upstream side.
func (ix *Index) RefreshSessions(ctx context.Context) error {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()
	return ix.refreshSessionsLocked(ctx)
}

func (ix *Index) refreshStreamsLocked(ctx context.Context) error {
	streams, err := ix.source.ListStreams(ctx, upstream.StreamFilter{})
	if err != nil {
		return err
	}
	ix.streams.Store(newStreamSnapshot(streams))
	return nil
}

func (ix *Index) refreshChannelsLocked(ctx context.Context) error {
	channels, err := ix.source.ListChannels(ctx)
	if err != nil {
		return err
	}
	ix.channels.Store(newChannelSnapshot(channels))
	return nil
}

func (ix *Index) refreshGroupsLocked(ctx context.Context) error {
	groups, err := ix.source.ListChannelGroups(ctx)
	if err != nil {
		return err
	}
	ix.groups.Store(newGroupSnapshot(groups))
	return nil
}

func (ix *Index) refreshAccountsLocked(ctx context.Context) error {
	accounts, err := ix.source.ListM3UAccounts(ctx)
	if err != nil {
		return err
	}
	ix.accounts.Store(newAccountSnapshot(accounts))
	return nil
}

func (ix *Index) refreshSessionsLocked(ctx context.Context) error {
	sessions, err := ix.source.ProxySessions(ctx)
	if err != nil {
		return err
	}
	ix.sessions.Store(newSessionSnapshot(sessions))
	return nil
}

// Loaded reports whether a full refresh has completed at least once.
func (ix *Index) Loaded() bool { return ix.loaded.Load() }

// LastRefresh returns the completion time of the last full refresh,
// or the zero time when none has run yet.
func (ix *Index) LastRefresh() time.Time {
	n := ix.lastRefresh.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Stream returns the stream with the given id.
func (ix *Index) Stream(id int64) (model.Stream, bool) {
	s, ok := ix.streams.Load().byID[id]
	return s, ok
}

// Streams returns the current stream snapshot, ascending by id.
// Callers must not mutate the returned slice.
func (ix *Index) Streams() []model.Stream {
	return ix.streams.Load().list
}

// StreamCount returns the number of indexed streams.
func (ix *Index) StreamCount() int {
	return len(ix.streams.Load().list)
}

// StreamsMatching returns streams whose name matches re, optionally
// restricted to the given account ids. An empty accounts slice means
// no account restriction. Custom streams carry no account and are only
// returned when no restriction is set.
func (ix *Index) StreamsMatching(re *regexp.Regexp, accounts []int64) []model.Stream {
	var allowed map[int64]struct{}
	if len(accounts) > 0 {
		allowed = make(map[int64]struct{}, len(accounts))
		for _, id := range accounts {
			allowed[id] = struct{}{}
		}
	}
	var out []model.Stream
	for _, s := range ix.streams.Load().list {
		if allowed != nil {
			if s.M3UAccountID == nil {
				continue
			}
			if _, ok := allowed[*s.M3UAccountID]; !ok {
				continue
			}
		}
		if re.MatchString(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

// Channel returns the channel with the given id.
func (ix *Index) Channel(id int64) (model.Channel, bool) {
	c, ok := ix.channels.Load().byID[id]
	return c, ok
}

// Channels returns the current channel snapshot, ascending by number.
func (ix *Index) Channels() []model.Channel {
	return ix.channels.Load().list
}

// Group returns the channel group with the given id.
func (ix *Index) Group(id int64) (model.ChannelGroup, bool) {
	g, ok := ix.groups.Load().byID[id]
	return g, ok
}

// Groups returns all channel groups. With onlyNonEmpty set, groups
// without channels are filtered out.
func (ix *Index) Groups(onlyNonEmpty bool) []model.ChannelGroup {
	list := ix.groups.Load().list
	if !onlyNonEmpty {
		return list
	}
	out := make([]model.ChannelGroup, 0, len(list))
	for _, g := range list {
		if g.ChannelCount > 0 {
			out = append(out, g)
		}
	}
	return out
}

// Account returns the M3U account with the given id.
func (ix *Index) Account(id int64) (model.M3UAccount, bool) {
	a, ok := ix.accounts.Load().byID[id]
	return a, ok
}

// Accounts returns all M3U accounts, ascending by id.
func (ix *Index) Accounts() []model.M3UAccount {
	return ix.accounts.Load().list
}

// AccountMap returns accounts keyed by id, for scoring and
// diversification lookups. The map is built per call.
func (ix *Index) AccountMap() map[int64]model.M3UAccount {
	snap := ix.accounts.Load()
	out := make(map[int64]model.M3UAccount, len(snap.list))
	for id, a := range snap.byID {
		out[id] = a
	}
	return out
}

// Profile returns the profile with the given id across all accounts.
func (ix *Index) Profile(id int64) (model.Profile, bool) {
	p, ok := ix.accounts.Load().profileByID[id]
	return p, ok
}

// AccountForProfile maps a profile id to its owning account id.
func (ix *Index) AccountForProfile(profileID int64) (int64, bool) {
	id, ok := ix.accounts.Load().profileAccount[profileID]
	return id, ok
}

// Sessions returns the current proxy-session snapshot.
func (ix *Index) Sessions() []model.ProxySession {
	return ix.sessions.Load().list
}

// ActiveSessionsForProfile counts live proxy sessions pinned to the
// given profile.
func (ix *Index) ActiveSessionsForProfile(profileID int64) int {
	return ix.sessions.Load().perProfile[profileID]
}

// ActiveSessionsForAccount counts live proxy sessions across all
// profiles of the given account. Each running channel counts once,
// regardless of attached clients.
func (ix *Index) ActiveSessionsForAccount(accountID int64) int {
	accounts := ix.accounts.Load()
	total := 0
	for profileID, n := range ix.sessions.Load().perProfile {
		if owner, ok := accounts.profileAccount[profileID]; ok && owner == accountID {
			total += n
		}
	}
	return total
}
