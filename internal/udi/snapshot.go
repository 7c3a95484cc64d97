// SPDX-License-Identifier: MIT

package udi

import (
	"sort"

	"github.com/ManuGH/streamwarden/internal/model"
)

// Snapshots are immutable once published. Readers grab the current
// pointer and work on a consistent view; refreshes build a new snapshot
// and swap it in atomically.

type streamSnapshot struct {
	byID map[int64]model.Stream
	list []model.Stream // ascending by id
}

type channelSnapshot struct {
	byID map[int64]model.Channel
	list []model.Channel // ascending by channel number, then id
}

type groupSnapshot struct {
	byID map[int64]model.ChannelGroup
	list []model.ChannelGroup
}

type accountSnapshot struct {
	byID           map[int64]model.M3UAccount
	list           []model.M3UAccount
	profileByID    map[int64]model.Profile
	profileAccount map[int64]int64
	// active profiles per account, default profile first
	activeProfiles map[int64][]model.Profile
}

type sessionSnapshot struct {
	list       []model.ProxySession
	perProfile map[int64]int
}

func newStreamSnapshot(streams []model.Stream) *streamSnapshot {
	snap := &streamSnapshot{
		byID: make(map[int64]model.Stream, len(streams)),
		list: make([]model.Stream, len(streams)),
	}
	copy(snap.list, streams)
	sort.Slice(snap.list, func(i, j int) bool { return snap.list[i].ID < snap.list[j].ID })
	for _, s := range snap.list {
		snap.byID[s.ID] = s
	}
	return snap
}

func newChannelSnapshot(channels []model.Channel) *channelSnapshot {
	snap := &channelSnapshot{
		byID: make(map[int64]model.Channel, len(channels)),
		list: make([]model.Channel, len(channels)),
	}
	copy(snap.list, channels)
	sort.Slice(snap.list, func(i, j int) bool {
		if snap.list[i].Number != snap.list[j].Number {
			return snap.list[i].Number < snap.list[j].Number
		}
		return snap.list[i].ID < snap.list[j].ID
	})
	for _, c := range snap.list {
		snap.byID[c.ID] = c
	}
	return snap
}

func newGroupSnapshot(groups []model.ChannelGroup) *groupSnapshot {
	snap := &groupSnapshot{
		byID: make(map[int64]model.ChannelGroup, len(groups)),
		list: make([]model.ChannelGroup, len(groups)),
	}
	copy(snap.list, groups)
	sort.Slice(snap.list, func(i, j int) bool { return snap.list[i].ID < snap.list[j].ID })
	for _, g := range snap.list {
		snap.byID[g.ID] = g
	}
	return snap
}

func newAccountSnapshot(accounts []model.M3UAccount) *accountSnapshot {
	snap := &accountSnapshot{
		byID:           make(map[int64]model.M3UAccount, len(accounts)),
		list:           make([]model.M3UAccount, len(accounts)),
		profileByID:    make(map[int64]model.Profile),
		profileAccount: make(map[int64]int64),
		activeProfiles: make(map[int64][]model.Profile),
	}
	copy(snap.list, accounts)
	sort.Slice(snap.list, func(i, j int) bool { return snap.list[i].ID < snap.list[j].ID })
	for _, a := range snap.list {
		snap.byID[a.ID] = a
		active := make([]model.Profile, 0, len(a.Profiles))
		for _, p := range a.Profiles {
			snap.profileByID[p.ID] = p
			snap.profileAccount[p.ID] = a.ID
			if p.IsActive {
				active = append(active, p)
			}
		}
		sort.SliceStable(active, func(i, j int) bool {
			if active[i].IsDefault != active[j].IsDefault {
				return active[i].IsDefault
			}
			return active[i].ID < active[j].ID
		})
		snap.activeProfiles[a.ID] = active
	}
	return snap
}

func newSessionSnapshot(sessions []model.ProxySession) *sessionSnapshot {
	snap := &sessionSnapshot{
		list:       make([]model.ProxySession, len(sessions)),
		perProfile: make(map[int64]int),
	}
	copy(snap.list, sessions)
	for _, s := range snap.list {
		snap.perProfile[s.M3UProfileID]++
	}
	return snap
}
