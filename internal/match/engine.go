// SPDX-License-Identifier: MIT

package match

import (
	"regexp"
	"sort"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/rs/zerolog"
)

// View is the index surface the planner reads. Snapshot semantics are
// assumed: two calls during one Plan see the same data.
type View interface {
	StreamsMatching(re *regexp.Regexp, accounts []int64) []model.Stream
	Stream(id int64) (model.Stream, bool)
}

// Options scope a single planning run.
type Options struct {
	// EnabledAccounts restricts candidates to these account ids.
	// Empty means all accounts. Custom streams always pass.
	EnabledAccounts []int64
	// RemoveNonMatching drops current members that match no enabled
	// pattern instead of retaining them.
	RemoveNonMatching bool
	// IsDead reports tracker-dead stream ids. May be nil.
	IsDead func(id int64) bool
}

// Plan is the computed membership change for one channel. Next holds
// retained ids in their current order followed by added ids ascending.
type Plan struct {
	ChannelID       int64
	Matched         int
	Added           []int64
	Removed         []int64
	Next            []int64
	InvalidPatterns int
}

// Changed reports whether writing the plan would alter the channel.
func (p Plan) Changed() bool {
	return len(p.Added) > 0 || len(p.Removed) > 0
}

// Planner computes membership plans against an index view.
type Planner struct {
	view   View
	logger zerolog.Logger
}

func NewPlanner(view View) *Planner {
	return &Planner{view: view, logger: log.WithComponent("match")}
}

// Plan evaluates the channel's enabled patterns and diffs the
// candidate set against current membership. It never writes anywhere.
func (pl *Planner) Plan(ch model.Channel, patterns []model.PatternRecord, opts Options) Plan {
	plan := Plan{ChannelID: ch.ID}

	compiled := make([]scopedPattern, 0, len(patterns))
	candidates := make(map[int64]struct{})
	for i, rec := range patterns {
		if !rec.Enabled {
			continue
		}
		re, err := Compile(rec.Pattern, ch.Name)
		if err != nil {
			plan.InvalidPatterns++
			pl.logger.Warn().
				Str("event", "match.pattern.invalid").
				Int64("channel_id", ch.ID).
				Int("index", i).
				Str("pattern", rec.Pattern).
				Err(err).
				Msg("skipping pattern that does not compile")
			continue
		}
		compiled = append(compiled, scopedPattern{re: re, accounts: rec.M3UAccounts})
		for _, s := range pl.view.StreamsMatching(re, rec.M3UAccounts) {
			if !pl.eligible(s, opts) {
				continue
			}
			candidates[s.ID] = struct{}{}
		}
	}
	plan.Matched = len(candidates)

	current := make(map[int64]struct{}, len(ch.Streams))
	for _, id := range ch.Streams {
		if _, dup := current[id]; dup {
			continue
		}
		current[id] = struct{}{}
		s, ok := pl.view.Stream(id)
		if !ok {
			// vanished upstream; membership writes only known ids
			plan.Removed = append(plan.Removed, id)
			continue
		}
		if opts.RemoveNonMatching && !nameMatches(compiled, s) {
			plan.Removed = append(plan.Removed, id)
			continue
		}
		plan.Next = append(plan.Next, id)
	}

	for id := range candidates {
		if _, ok := current[id]; !ok {
			plan.Added = append(plan.Added, id)
		}
	}
	sort.Slice(plan.Added, func(i, j int) bool { return plan.Added[i] < plan.Added[j] })
	plan.Next = append(plan.Next, plan.Added...)
	return plan
}

type scopedPattern struct {
	re       *regexp.Regexp
	accounts []int64
}

func (pl *Planner) eligible(s model.Stream, opts Options) bool {
	if s.HasDeadPrefix() {
		return false
	}
	if opts.IsDead != nil && opts.IsDead(s.ID) {
		return false
	}
	if len(opts.EnabledAccounts) == 0 || s.M3UAccountID == nil {
		return true
	}
	for _, id := range opts.EnabledAccounts {
		if id == *s.M3UAccountID {
			return true
		}
	}
	return false
}

// nameMatches tests retention under RemoveNonMatching. The dead marker
// is stripped first: dead pruning belongs to the probe runner, not the
// matcher.
func nameMatches(patterns []scopedPattern, s model.Stream) bool {
	name := model.UntagDead(s.Name)
	for _, p := range patterns {
		if len(p.accounts) > 0 {
			if s.M3UAccountID == nil || !containsID(p.accounts, *s.M3UAccountID) {
				continue
			}
		}
		if p.re.MatchString(name) {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
