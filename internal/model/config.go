// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"time"
)

// QualityPreference steers the scorer toward or away from particular
// resolutions. The zero value inherits from the next level (channel →
// group → global default).
type QualityPreference string

const (
	PrefUnset    QualityPreference = ""
	PrefDefault  QualityPreference = "default"
	PrefPrefer4K QualityPreference = "prefer_4k"
	PrefAvoid4K  QualityPreference = "avoid_4k"
	PrefMax1080p QualityPreference = "max_1080p"
	PrefMax720p  QualityPreference = "max_720p"
)

// Valid reports whether p is one of the known preference values. The unset
// value is valid only where inheritance applies.
func (p QualityPreference) Valid() bool {
	switch p {
	case PrefUnset, PrefDefault, PrefPrefer4K, PrefAvoid4K, PrefMax1080p, PrefMax720p:
		return true
	}
	return false
}

// Toggle is a tri-state flag: enabled, disabled, or unset (inherit).
type Toggle string

const (
	ToggleUnset    Toggle = ""
	ToggleEnabled  Toggle = "enabled"
	ToggleDisabled Toggle = "disabled"
)

// Valid reports whether t is a known toggle value.
func (t Toggle) Valid() bool {
	return t == ToggleUnset || t == ToggleEnabled || t == ToggleDisabled
}

// ChannelSettings holds per-channel matching/checking flags and quality
// preference. Unset fields inherit from the group, then the global default.
type ChannelSettings struct {
	MatchingMode      Toggle            `json:"matching_mode,omitempty"`
	CheckingMode      Toggle            `json:"checking_mode,omitempty"`
	QualityPreference QualityPreference `json:"quality_preference,omitempty"`
}

// GroupSettings mirrors ChannelSettings at channel-group scope.
type GroupSettings struct {
	MatchingMode      Toggle            `json:"matching_mode,omitempty"`
	CheckingMode      Toggle            `json:"checking_mode,omitempty"`
	QualityPreference QualityPreference `json:"quality_preference,omitempty"`
}

// EffectiveSettings is the fully resolved view used by the engine.
type EffectiveSettings struct {
	Matching   bool              `json:"matching"`
	Checking   bool              `json:"checking"`
	Preference QualityPreference `json:"quality_preference"`
}

// Hidden reports whether a channel should be omitted from listings: both
// effective modes disabled.
func (e EffectiveSettings) Hidden() bool {
	return !e.Matching && !e.Checking
}

// PatternRecord is one per-channel regex rule. M3UAccounts restricts matches
// to streams of those accounts; nil means no restriction. Pattern text may
// contain the literal token CHANNEL_NAME, replaced at match time.
type PatternRecord struct {
	Pattern     string  `json:"pattern"`
	M3UAccounts []int64 `json:"m3u_accounts,omitempty"`
	Enabled     bool    `json:"enabled"`
}

// AutomationConfig drives the scheduler: when playlists refresh, whether
// matching and checking run automatically, and the account-level filters.
type AutomationConfig struct {
	PlaylistUpdateIntervalMinutes int    `json:"playlist_update_interval_minutes"`
	PlaylistUpdateCron            string `json:"playlist_update_cron,omitempty"`
	GlobalActionCron              string `json:"global_action_cron,omitempty"`
	AutoStreamMatching            bool   `json:"auto_stream_matching"`
	AutoQualityChecking           bool   `json:"auto_quality_checking"`
	RemoveNonMatchingStreams      bool   `json:"remove_non_matching_streams"`
	// EnabledAccountIDs, when non-empty, restricts matching to streams of
	// these accounts.
	EnabledAccountIDs []int64 `json:"enabled_account_ids,omitempty"`
	// PriorityOnlyAccountIDs lists accounts whose streams are exempt from
	// analyzer probing and scored by account priority alone.
	PriorityOnlyAccountIDs []int64 `json:"priority_only_account_ids,omitempty"`
}

// DefaultAutomationConfig returns the documented defaults.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		PlaylistUpdateIntervalMinutes: 60,
		AutoStreamMatching:            true,
		AutoQualityChecking:           true,
	}
}

// Validate rejects values the scheduler cannot operate on.
func (c AutomationConfig) Validate() error {
	if c.PlaylistUpdateIntervalMinutes < 0 {
		return &FieldError{Field: "playlist_update_interval_minutes", Msg: "must be >= 0"}
	}
	if c.PlaylistUpdateIntervalMinutes == 0 && c.PlaylistUpdateCron == "" {
		return &FieldError{Field: "playlist_update_interval_minutes", Msg: "interval or cron required"}
	}
	return nil
}

// ScoreWeights weight the components of a complete probe. They are
// sum-normalized before use, so only the ratios matter.
type ScoreWeights struct {
	Resolution float64 `json:"resolution"`
	Bitrate    float64 `json:"bitrate"`
	FPS        float64 `json:"fps"`
	Codec      float64 `json:"codec"`
}

// DiversificationStrategy selects how provider groups are ordered when
// interleaving streams across accounts.
type DiversificationStrategy string

const (
	DiversifyRoundRobin       DiversificationStrategy = "round_robin"
	DiversifyPriorityWeighted DiversificationStrategy = "priority_weighted"
)

// DiversificationConfig controls the optional interleave step after sorting.
type DiversificationConfig struct {
	Enabled  bool                    `json:"enabled"`
	Strategy DiversificationStrategy `json:"strategy"`
}

// AccountLimitsConfig caps how many streams of one account may remain in a
// channel after ordering. Zero means unlimited. PerAccount overrides the
// global value for individual accounts.
type AccountLimitsConfig struct {
	GlobalLimit int           `json:"global_limit"`
	PerAccount  map[int64]int `json:"per_account,omitempty"`
}

// LimitFor resolves the effective cap for an account.
func (c AccountLimitsConfig) LimitFor(accountID int64) int {
	if v, ok := c.PerAccount[accountID]; ok {
		return v
	}
	return c.GlobalLimit
}

// StreamCheckerConfig drives the probe runner: analyzer invocation
// parameters, the failover phases, immunity, scoring and ordering.
type StreamCheckerConfig struct {
	GlobalConcurrentLimit int `json:"global_concurrent_limit"`

	FFmpegDurationSeconds int    `json:"ffmpeg_duration_seconds"`
	TimeoutSeconds        int    `json:"timeout_seconds"`
	Retries               int    `json:"retries"`
	RetryDelaySeconds     int    `json:"retry_delay_seconds"`
	UserAgent             string `json:"user_agent,omitempty"`

	ImmunityHours int `json:"immunity_hours"`

	TryFullProfiles           bool `json:"try_full_profiles"`
	Phase2MaxWaitSeconds      int  `json:"phase2_max_wait_seconds"`
	Phase2PollIntervalSeconds int  `json:"phase2_poll_interval_seconds"`

	Weights        ScoreWeights          `json:"weights"`
	PriorityFactor float64               `json:"priority_factor"`
	Diversify      DiversificationConfig `json:"diversification"`
	AccountLimits  AccountLimitsConfig   `json:"account_stream_limits"`

	StaleTokenMaxAgeMinutes int `json:"stale_token_max_age_minutes"`
}

// DefaultStreamCheckerConfig returns the documented defaults.
func DefaultStreamCheckerConfig() StreamCheckerConfig {
	return StreamCheckerConfig{
		GlobalConcurrentLimit:     4,
		FFmpegDurationSeconds:     10,
		TimeoutSeconds:            30,
		Retries:                   1,
		RetryDelaySeconds:         2,
		ImmunityHours:             2,
		TryFullProfiles:           false,
		Phase2MaxWaitSeconds:      300,
		Phase2PollIntervalSeconds: 10,
		Weights: ScoreWeights{
			Resolution: 0.5,
			Bitrate:    0.3,
			FPS:        0.1,
			Codec:      0.1,
		},
		PriorityFactor: 0.1,
		Diversify: DiversificationConfig{
			Strategy: DiversifyRoundRobin,
		},
		StaleTokenMaxAgeMinutes: 60,
	}
}

// Validate rejects values the checker cannot operate on.
func (c StreamCheckerConfig) Validate() error {
	if c.GlobalConcurrentLimit <= 0 {
		return &FieldError{Field: "global_concurrent_limit", Msg: "must be > 0"}
	}
	if c.TimeoutSeconds <= 0 {
		return &FieldError{Field: "timeout_seconds", Msg: "must be > 0"}
	}
	if c.Retries < 0 {
		return &FieldError{Field: "retries", Msg: "must be >= 0"}
	}
	if c.ImmunityHours < 0 {
		return &FieldError{Field: "immunity_hours", Msg: "must be >= 0"}
	}
	if w := c.Weights; w.Resolution < 0 || w.Bitrate < 0 || w.FPS < 0 || w.Codec < 0 {
		return &FieldError{Field: "weights", Msg: "components must be >= 0"}
	}
	if w := c.Weights; w.Resolution+w.Bitrate+w.FPS+w.Codec <= 0 {
		return &FieldError{Field: "weights", Msg: "at least one component must be > 0"}
	}
	switch c.Diversify.Strategy {
	case "", DiversifyRoundRobin, DiversifyPriorityWeighted:
	default:
		return &FieldError{Field: "diversification.strategy", Msg: "unknown strategy"}
	}
	if c.AccountLimits.GlobalLimit < 0 {
		return &FieldError{Field: "account_stream_limits.global_limit", Msg: "must be >= 0"}
	}
	for id, v := range c.AccountLimits.PerAccount {
		if v < 0 {
			return &FieldError{Field: "account_stream_limits.per_account", Msg: fmt.Sprintf("limit for account %d must be >= 0", id)}
		}
	}
	return nil
}

// Immunity returns the re-probe immunity window as a duration.
func (c StreamCheckerConfig) Immunity() time.Duration {
	return time.Duration(c.ImmunityHours) * time.Hour
}

// FieldError is a validation failure tied to a single configuration field.
// The HTTP surface maps it to a 400 with the field name attached.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}
