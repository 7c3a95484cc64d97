// SPDX-License-Identifier: MIT

package match

import (
	"regexp"
	"testing"

	"github.com/ManuGH/streamwarden/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeView struct {
	streams []model.Stream
}

func (f *fakeView) StreamsMatching(re *regexp.Regexp, accounts []int64) []model.Stream {
	var out []model.Stream
	for _, s := range f.streams {
		if len(accounts) > 0 {
			if s.M3UAccountID == nil {
				continue
			}
			found := false
			for _, id := range accounts {
				if id == *s.M3UAccountID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if re.MatchString(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeView) Stream(id int64) (model.Stream, bool) {
	for _, s := range f.streams {
		if s.ID == id {
			return s, true
		}
	}
	return model.Stream{}, false
}

func int64ptr(v int64) *int64 { return &v }

func enabled(pattern string, accounts ...int64) model.PatternRecord {
	return model.PatternRecord{Pattern: pattern, M3UAccounts: accounts, Enabled: true}
}

func TestPlan_AddsWhitespaceVariants(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "ESPN 2 FHD", M3UAccountID: int64ptr(1)},
		{ID: 2, Name: "US: ESPN 2", M3UAccountID: int64ptr(1)},
		{ID: 3, Name: "ESPN\t2 HD", M3UAccountID: int64ptr(2)},
		{ID: 4, Name: "ESPNews", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)

	ch := model.Channel{ID: 7, Name: "ESPN 2"}
	plan := pl.Plan(ch, []model.PatternRecord{enabled(".*CHANNEL_NAME.*")}, Options{})

	assert.Equal(t, 3, plan.Matched)
	assert.Equal(t, []int64{1, 2, 3}, plan.Added)
	assert.Empty(t, plan.Removed)
	assert.Equal(t, []int64{1, 2, 3}, plan.Next)
	assert.True(t, plan.Changed())
}

func TestPlan_PreservesRetainedOrder(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "News A", M3UAccountID: int64ptr(1)},
		{ID: 2, Name: "News B", M3UAccountID: int64ptr(1)},
		{ID: 3, Name: "News C", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)

	// channel holds 3 then 1; 2 is new
	ch := model.Channel{ID: 7, Name: "News", Streams: []int64{3, 1}}
	plan := pl.Plan(ch, []model.PatternRecord{enabled("News")}, Options{})

	assert.Equal(t, []int64{2}, plan.Added)
	assert.Equal(t, []int64{3, 1, 2}, plan.Next, "retained ids keep their order, additions append")
}

func TestPlan_DisabledAndInvalidPatterns(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "Alpha", M3UAccountID: int64ptr(1)},
		{ID: 2, Name: "Beta", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)

	ch := model.Channel{ID: 7, Name: "X"}
	plan := pl.Plan(ch, []model.PatternRecord{
		{Pattern: "Alpha", Enabled: false},
		enabled("(["),
		enabled("Beta"),
	}, Options{})

	assert.Equal(t, 1, plan.InvalidPatterns)
	assert.Equal(t, []int64{2}, plan.Added, "valid patterns still apply")
}

func TestPlan_AccountScoping(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "Movie HD", M3UAccountID: int64ptr(1)},
		{ID: 2, Name: "Movie HD", M3UAccountID: int64ptr(2)},
		{ID: 3, Name: "Movie HD", IsCustom: true},
	}}
	pl := NewPlanner(view)
	ch := model.Channel{ID: 7, Name: "Movie"}

	// pattern-level account filter excludes custom streams
	plan := pl.Plan(ch, []model.PatternRecord{enabled("Movie", 2)}, Options{})
	assert.Equal(t, []int64{2}, plan.Added)

	// enabled-accounts filter lets custom streams through
	plan = pl.Plan(ch, []model.PatternRecord{enabled("Movie")}, Options{EnabledAccounts: []int64{1}})
	assert.Equal(t, []int64{1, 3}, plan.Added)
}

func TestPlan_ExcludesDeadStreams(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "[DEAD] Film HD", M3UAccountID: int64ptr(1)},
		{ID: 2, Name: "Film HD", M3UAccountID: int64ptr(1)},
		{ID: 3, Name: "Film SD", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)
	ch := model.Channel{ID: 7, Name: "Film"}

	plan := pl.Plan(ch, []model.PatternRecord{enabled("Film")}, Options{
		IsDead: func(id int64) bool { return id == 3 },
	})
	assert.Equal(t, []int64{2}, plan.Added, "prefixed and tracker-dead streams are not candidates")
}

func TestPlan_VanishedMemberRemoved(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "Doc HD", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)

	ch := model.Channel{ID: 7, Name: "Doc", Streams: []int64{99, 1}}
	plan := pl.Plan(ch, []model.PatternRecord{enabled("Doc")}, Options{})

	assert.Equal(t, []int64{99}, plan.Removed)
	assert.Equal(t, []int64{1}, plan.Next)
	assert.True(t, plan.Changed())
}

func TestPlan_RemoveNonMatching(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "Kids HD", M3UAccountID: int64ptr(1)},
		{ID: 2, Name: "Cartoons", M3UAccountID: int64ptr(1)},
		{ID: 3, Name: "[DEAD] Kids SD", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)
	ch := model.Channel{ID: 7, Name: "Kids", Streams: []int64{2, 3, 1}}

	// off by default: non-matching member 2 is retained
	plan := pl.Plan(ch, []model.PatternRecord{enabled("Kids")}, Options{})
	assert.Empty(t, plan.Removed)
	assert.Equal(t, []int64{2, 3, 1}, plan.Next)

	// on: member 2 is dropped, the dead-tagged member still matches
	// once the marker is stripped and stays for the probe runner
	plan = pl.Plan(ch, []model.PatternRecord{enabled("Kids")}, Options{RemoveNonMatching: true})
	assert.Equal(t, []int64{2}, plan.Removed)
	assert.Equal(t, []int64{3, 1}, plan.Next)
}

func TestPlan_NoChange(t *testing.T) {
	view := &fakeView{streams: []model.Stream{
		{ID: 1, Name: "Live HD", M3UAccountID: int64ptr(1)},
	}}
	pl := NewPlanner(view)
	ch := model.Channel{ID: 7, Name: "Live", Streams: []int64{1}}

	plan := pl.Plan(ch, []model.PatternRecord{enabled("Live")}, Options{})
	require.False(t, plan.Changed())
	assert.Equal(t, []int64{1}, plan.Next)
}
