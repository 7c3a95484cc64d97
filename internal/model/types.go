// SPDX-License-Identifier: MIT

// Package model holds the domain types shared across the engine: upstream
// entities (streams, channels, accounts, profiles), probe results and the
// persisted tracker records. All identifiers are opaque integers assigned
// by the upstream.
package model

import (
	"strings"
	"time"
)

// DeadPrefix marks a stream name as unplayable on the upstream side. The
// tracker set is authoritative; the prefix exists so users see the state in
// the upstream UI as well.
const DeadPrefix = "[DEAD]"

// Stream is one playable source as reported by the upstream.
type Stream struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	M3UAccountID *int64 `json:"m3u_account"`
	IsCustom     bool   `json:"is_custom"`
}

// HasDeadPrefix reports whether the upstream name carries the dead marker.
func (s Stream) HasDeadPrefix() bool {
	return strings.HasPrefix(s.Name, DeadPrefix)
}

// TagDead returns name with the dead marker prepended. Tagging an already
// tagged name is a no-op.
func TagDead(name string) string {
	if strings.HasPrefix(name, DeadPrefix) {
		return name
	}
	return DeadPrefix + " " + name
}

// UntagDead strips the dead marker and any following whitespace.
func UntagDead(name string) string {
	if !strings.HasPrefix(name, DeadPrefix) {
		return name
	}
	return strings.TrimLeft(strings.TrimPrefix(name, DeadPrefix), " ")
}

// AccountID returns the owning account id, or 0 for custom streams.
func (s Stream) AccountID() int64 {
	if s.M3UAccountID == nil {
		return 0
	}
	return *s.M3UAccountID
}

// Channel is a user-facing grouping with an ordered stream list. The order
// stored upstream is authoritative.
type Channel struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Number         float64 `json:"channel_number"`
	LogoID         *int64  `json:"logo_id"`
	ChannelGroupID *int64  `json:"channel_group"`
	Streams        []int64 `json:"streams"`
}

// ChannelGroup is surfaced only when it contains at least one channel.
type ChannelGroup struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	ChannelCount    int    `json:"channel_count"`
	M3UAccountCount int    `json:"m3u_account_count"`
}

// M3UAccount is a credential and provider identity on the upstream.
// MaxStreams of 0 means the provider imposes no session limit.
type M3UAccount struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ServerURL  string    `json:"server_url"`
	MaxStreams int       `json:"max_streams"`
	Priority   int       `json:"priority"`
	Proxy      string    `json:"proxy,omitempty"`
	Profiles   []Profile `json:"profiles"`
}

// Profile is an alternate access path to an account, optionally rewriting
// stream URLs via SearchPattern/ReplacePattern.
type Profile struct {
	ID             int64  `json:"id"`
	AccountID      int64  `json:"m3u_account"`
	Name           string `json:"name"`
	MaxStreams     int    `json:"max_streams"`
	IsActive       bool   `json:"is_active"`
	IsDefault      bool   `json:"is_default"`
	SearchPattern  string `json:"search_pattern,omitempty"`
	ReplacePattern string `json:"replace_pattern,omitempty"`
}

// ProxySession is the live per-channel view published by the upstream proxy:
// which profile a running channel uses and how many clients are attached.
type ProxySession struct {
	ChannelID    int64  `json:"channel_id"`
	State        string `json:"state"`
	M3UProfileID int64  `json:"m3u_profile_id"`
	ClientCount  int    `json:"client_count"`
	StreamID     *int64 `json:"stream_id,omitempty"`
}

// ProbeStatus classifies the outcome of a media-analyzer invocation.
type ProbeStatus string

const (
	ProbeOK      ProbeStatus = "ok"
	ProbeError   ProbeStatus = "error"
	ProbeTimeout ProbeStatus = "timeout"
)

// ProbeResult is the cached outcome of probing one stream URL.
// BitrateKbps is nil when the analyzer could not measure it; scoring then
// applies the fixed fallback score.
type ProbeResult struct {
	Status        ProbeStatus `json:"status"`
	Width         int         `json:"resolution_w"`
	Height        int         `json:"resolution_h"`
	FPS           float64     `json:"fps"`
	VideoCodec    string      `json:"video_codec,omitempty"`
	AudioCodec    string      `json:"audio_codec,omitempty"`
	BitrateKbps   *float64    `json:"bitrate_kbps,omitempty"`
	LastCheckedAt time.Time   `json:"last_checked_at"`
	UsedProfileID *int64      `json:"used_profile_id,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
}

// Healthy reports whether the probe produced a usable picture: status OK
// with a real resolution and a non-zero bitrate when one was measured.
func (r ProbeResult) Healthy() bool {
	if r.Status != ProbeOK {
		return false
	}
	if r.Width <= 0 || r.Height <= 0 {
		return false
	}
	if r.BitrateKbps != nil && *r.BitrateKbps <= 0 {
		return false
	}
	return true
}

// DeadStreamRecord is one entry of the persistent dead-stream set.
type DeadStreamRecord struct {
	StreamID    int64     `json:"stream_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Reason      string    `json:"reason,omitempty"`
}

// UpdateState tracks per-channel freshness bookkeeping.
type UpdateState struct {
	LastUpdatedAt       time.Time `json:"last_updated_at"`
	LastStreamCount     int       `json:"last_stream_count"`
	ForceCheckRequested bool      `json:"force_check_requested"`
}

// ProfileSnapshot preserves an upstream profile as last seen, so streams
// rewritten through a profile that later disappears or is disabled can be
// revived with the original transformation knowledge.
type ProfileSnapshot struct {
	Profile
	AccountName string    `json:"account_name,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}
