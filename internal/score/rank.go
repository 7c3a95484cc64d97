// SPDX-License-Identifier: MIT

package score

import (
	"sort"

	"github.com/ManuGH/streamwarden/internal/model"
)

// Ranked pairs a stream with its computed score for ordering.
type Ranked struct {
	Stream model.Stream
	Score  float64
}

// SortDesc orders by score descending. Ties break on stream id so the
// result is stable across runs.
func SortDesc(list []Ranked) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Score != list[j].Score {
			return list[i].Score > list[j].Score
		}
		return list[i].Stream.ID < list[j].Stream.ID
	})
}

// Diversify interleaves provider groups so a single account does not
// monopolize the head of the list. Within a group the incoming order
// is kept; the input is expected to be score-sorted already.
//
// round_robin orders groups alphabetically by account name,
// priority_weighted by account priority descending. Each round takes
// one stream from every group that still has one.
func Diversify(list []Ranked, accounts map[int64]model.M3UAccount, strategy model.DiversificationStrategy) []Ranked {
	if len(list) < 2 {
		return list
	}

	type group struct {
		accountID int64
		name      string
		priority  int
		entries   []Ranked
	}
	byAccount := make(map[int64]*group)
	var groups []*group
	for _, r := range list {
		id := r.Stream.AccountID()
		g, ok := byAccount[id]
		if !ok {
			g = &group{accountID: id}
			if a, found := accounts[id]; found {
				g.name = a.Name
				g.priority = a.Priority
			}
			byAccount[id] = g
			groups = append(groups, g)
		}
		g.entries = append(g.entries, r)
	}
	if len(groups) < 2 {
		return list
	}

	switch strategy {
	case model.DiversifyPriorityWeighted:
		sort.SliceStable(groups, func(i, j int) bool {
			if groups[i].priority != groups[j].priority {
				return groups[i].priority > groups[j].priority
			}
			return groups[i].accountID < groups[j].accountID
		})
	default: // round_robin
		sort.SliceStable(groups, func(i, j int) bool {
			if groups[i].name != groups[j].name {
				return groups[i].name < groups[j].name
			}
			return groups[i].accountID < groups[j].accountID
		})
	}

	out := make([]Ranked, 0, len(list))
	for round := 0; len(out) < len(list); round++ {
		for _, g := range groups {
			if round < len(g.entries) {
				out = append(out, g.entries[round])
			}
		}
	}
	return out
}

// ApplyAccountLimits drops tail entries per account until each
// account's count fits its effective limit. Zero means unlimited.
// Custom streams carry no account and are never trimmed.
func ApplyAccountLimits(list []Ranked, limits model.AccountLimitsConfig) []Ranked {
	if limits.GlobalLimit == 0 && len(limits.PerAccount) == 0 {
		return list
	}
	counts := make(map[int64]int)
	out := make([]Ranked, 0, len(list))
	for _, r := range list {
		id := r.Stream.AccountID()
		if id == 0 {
			out = append(out, r)
			continue
		}
		limit := limits.LimitFor(id)
		if limit > 0 && counts[id] >= limit {
			continue
		}
		counts[id]++
		out = append(out, r)
	}
	return out
}
