// Package cluster pre-groups geographically close stops into super-stops to
// shrink the optimizer's problem and bias it toward batching. Clusters are
// an optimizer hint only; the final itinerary always expands back to the
// original stops.
package cluster

import (
	"sort"
	"time"

	"calroute/internal/model"
)

// SuperPrefix namespaces synthetic super-stop ids.
const SuperPrefix = "super:"

// Clustering holds the reduced stop set and the expansion mapping.
type Clustering struct {
	// Stops is the reduced set fed to the optimizer. Super-stops carry a
	// synthetic id, the first member's location, the summed service
	// duration, and the intersected window.
	Stops []model.Stop
	// RepIdx maps each reduced stop to its representative's index in the
	// original slice, for matrix row selection.
	RepIdx []int

	members map[string][]model.Stop
}

// Build partitions stops using a merge threshold of factor x the median
// pairwise travel time. durSec is indexed by position in stops and returns
// a negative value for unknown pairs. Fixed stops never merge, and a merge
// is skipped when the intersected window is too narrow to absorb the
// members' accumulated service time.
func Build(stops []model.Stop, durSec func(i, j int) int, factor float64) *Clustering {
	n := len(stops)
	c := &Clustering{members: map[string][]model.Stop{}}

	thr := threshold(n, durSec, factor)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	// Accumulated window, total service, and smallest member service per
	// root; a nil window means unbounded.
	win := make([]*model.TimeWindow, n)
	svc := make([]int, n)
	minSvc := make([]int, n)
	for i, s := range stops {
		win[i] = s.Window
		svc[i] = s.ServiceSec
		minSvc[i] = s.ServiceSec
	}

	if thr > 0 {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if stops[i].Fixed || stops[j].Fixed {
					continue
				}
				dij, dji := durSec(i, j), durSec(j, i)
				if dij < 0 || dji < 0 || dij > thr || dji > thr {
					continue
				}
				ri, rj := find(i), find(j)
				if ri == rj {
					continue
				}
				merged, ok := intersect(win[ri], win[rj])
				if !ok {
					// Windows must never be falsely merged.
					continue
				}
				total := svc[ri] + svc[rj]
				least := minSvc[ri]
				if minSvc[rj] < least {
					least = minSvc[rj]
				}
				// Every member except the last waits through the service of
				// the stops ahead of it; the shared window must leave room
				// for that, whichever member goes last.
				if merged != nil && int(merged.Width().Seconds()) < total-least {
					continue
				}
				if rj < ri {
					ri, rj = rj, ri
				}
				parent[rj] = ri
				win[ri] = merged
				svc[ri] = total
				minSvc[ri] = least
			}
		}
	}

	groups := map[int][]int{}
	roots := []int{}
	for i := 0; i < n; i++ {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	sort.Ints(roots)

	for _, r := range roots {
		idx := groups[r]
		if len(idx) == 1 {
			c.Stops = append(c.Stops, stops[idx[0]])
			c.RepIdx = append(c.RepIdx, idx[0])
			continue
		}
		mem := make([]model.Stop, len(idx))
		for k, i := range idx {
			mem[k] = stops[i]
		}
		sortMembers(mem)

		total := 0
		for _, s := range mem {
			total += s.ServiceSec
		}
		// The last member starts after everyone else's service; pulling the
		// latest start in by that much keeps a feasible super slot feasible
		// for every member.
		w := win[r]
		if w != nil {
			if preceding := total - mem[len(mem)-1].ServiceSec; preceding > 0 {
				w = &model.TimeWindow{
					EarliestStart: w.EarliestStart,
					LatestStart:   w.LatestStart.Add(-time.Duration(preceding) * time.Second),
				}
			}
		}

		super := model.Stop{
			ID:         SuperPrefix + mem[0].ID,
			Loc:        mem[0].Loc,
			Priority:   mem[0].Priority,
			Window:     w,
			ServiceSec: total,
		}
		c.members[super.ID] = mem
		c.Stops = append(c.Stops, super)
		// Representative is the first member by the expansion order.
		c.RepIdx = append(c.RepIdx, indexOf(stops, mem[0].ID))
	}
	return c
}

// Members returns the ordered member stops of a super-stop, or nil.
func (c *Clustering) Members(id string) []model.Stop { return c.members[id] }

// Expand replaces super-stops in a timed sequence with their members in the
// recorded member order. Members share the super-stop's slot: the first
// keeps the super arrival and leg, each following member starts when the
// previous one finishes (intra-cluster travel is below the merge threshold
// and already absorbed by the grouping).
func (c *Clustering) Expand(seq []model.ItineraryStop) []model.ItineraryStop {
	out := make([]model.ItineraryStop, 0, len(seq))
	for _, is := range seq {
		mem := c.members[is.StopID]
		if mem == nil {
			out = append(out, is)
			continue
		}
		t := is.Arrival
		for k, s := range mem {
			exp := model.ItineraryStop{
				StopID:  s.ID,
				Arrival: t,
				WaitSec: 0,
			}
			if k == 0 {
				exp.WaitSec = is.WaitSec
				exp.Leg = is.Leg
			}
			exp.Departure = t.Add(time.Duration(s.ServiceSec) * time.Second)
			t = exp.Departure
			out = append(out, exp)
		}
	}
	for i := range out {
		out[i].Order = i
	}
	return out
}

func threshold(n int, durSec func(i, j int) int, factor float64) int {
	vals := []int{}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				if d := durSec(i, j); d >= 0 {
					vals = append(vals, d)
				}
			}
		}
	}
	if len(vals) == 0 || factor <= 0 {
		return 0
	}
	sort.Ints(vals)
	return int(factor * float64(vals[len(vals)/2]))
}

// sortMembers orders cluster members for expansion: priority descending,
// then tighter window first, then id.
func sortMembers(mem []model.Stop) {
	sort.SliceStable(mem, func(a, b int) bool {
		if mem[a].Priority != mem[b].Priority {
			return mem[a].Priority > mem[b].Priority
		}
		wa, wb := windowWidth(mem[a].Window), windowWidth(mem[b].Window)
		if wa != wb {
			return wa < wb
		}
		return mem[a].ID < mem[b].ID
	})
}

func windowWidth(w *model.TimeWindow) int64 {
	if w == nil {
		return int64(^uint64(0) >> 1)
	}
	return int64(w.Width().Seconds())
}

func intersect(a, b *model.TimeWindow) (*model.TimeWindow, bool) {
	if a == nil {
		return b, true
	}
	if b == nil {
		return a, true
	}
	out, ok := a.Intersect(*b)
	if !ok {
		return nil, false
	}
	return &out, true
}

func indexOf(stops []model.Stop, id string) int {
	for i, s := range stops {
		if s.ID == id {
			return i
		}
	}
	return -1
}
