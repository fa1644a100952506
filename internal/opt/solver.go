// Package opt solves the single-vehicle time-windowed ordering problem over
// one user's stop set: a greedy nearest-feasible-next construction followed
// by bounded local search (pairwise swap, single-stop relocation). The
// solver is fully deterministic: identical stops, costs, and anchor always
// produce the identical ordering.
package opt

import (
	"errors"
	"sort"
	"time"

	"calroute/internal/matrix"
	"calroute/internal/model"
)

// ErrNoReachableStops is fatal to a run: the anchor has no finite-cost edge
// to any stop. Reported upward, never retried internally.
var ErrNoReachableStops = errors.New("no stop reachable from anchor")

// costEpsilon guards float comparisons so equal-cost orderings fall through
// to the deterministic tie-break.
const costEpsilon = 1e-6

// Weights holds the objective weights. Violation is indexed by
// model.Priority and is applied per second of window violation.
type Weights struct {
	Wait      float64
	Violation [3]float64
}

// Problem is one optimization run. Matrix index 0 is the anchor; stop i
// maps to matrix index i+1.
type Problem struct {
	Stops        []model.Stop
	Matrix       *matrix.Matrix
	AnchorDepart time.Time
	Horizon      model.TimeRange
	Weights      Weights
	// Budgets bound the improvement loop for interactive replanning.
	MaxIterations int
	TimeBudget    time.Duration
}

// Metrics summarizes one solve, mirroring what gets persisted per plan.
type Metrics struct {
	Iterations   int
	Improvements int
	SeedCost     float64
	FinalCost    float64
	ViolationSec int
	Elapsed      time.Duration
}

// Result is a sequenced solution. When Feasible is false the ordering is
// best-effort and Violations maps stop id to seconds of window violation.
type Result struct {
	Order      []int
	Times      []StopTime
	Feasible   bool
	Violations map[string]int
	Metrics    Metrics
}

// Solve produces a feasible or best-effort ordering. It errors only when no
// stop is reachable from the anchor; an empty stop set yields an empty
// feasible result.
func Solve(p Problem) (Result, error) {
	start := time.Now()
	n := len(p.Stops)
	if n == 0 {
		return Result{Feasible: true}, nil
	}
	reachable := false
	for i := 1; i <= n; i++ {
		if !p.Matrix.IsUnknown(0, i) {
			reachable = true
			break
		}
	}
	if !reachable {
		return Result{}, ErrNoReachableStops
	}

	order := greedySeed(p)
	best := evaluate(p, order)
	seedCost := best.cost

	iter, improvements := 0, 0
	deadline := start.Add(p.TimeBudget)
	budget := func() bool {
		if p.MaxIterations > 0 && iter >= p.MaxIterations {
			return false
		}
		if p.TimeBudget > 0 && time.Now().After(deadline) {
			return false
		}
		return true
	}

	improved := true
	for improved && budget() {
		improved = false
		// Pairwise swap of two movable positions.
		for i := 0; i < n && budget(); i++ {
			if p.Stops[order[i]].Fixed {
				continue
			}
			for j := i + 1; j < n && budget(); j++ {
				if p.Stops[order[j]].Fixed {
					continue
				}
				iter++
				cand := append([]int(nil), order...)
				cand[i], cand[j] = cand[j], cand[i]
				ev := evaluate(p, cand)
				if better(p, ev, best, cand, order) {
					order, best = cand, ev
					improvements++
					improved = true
				}
			}
		}
		// Single-stop relocation.
		for i := 0; i < n && budget(); i++ {
			if p.Stops[order[i]].Fixed {
				continue
			}
			for j := 0; j <= n-1 && budget(); j++ {
				if j == i {
					continue
				}
				iter++
				cand := relocate(order, i, j)
				ev := evaluate(p, cand)
				if better(p, ev, best, cand, order) {
					order, best = cand, ev
					improvements++
					improved = true
				}
			}
		}
	}

	res := Result{
		Order:    order,
		Times:    best.times,
		Feasible: best.feasible(),
		Metrics: Metrics{
			Iterations:   iter,
			Improvements: improvements,
			SeedCost:     seedCost,
			FinalCost:    best.cost,
			ViolationSec: best.violationSec,
			Elapsed:      time.Since(start),
		},
	}
	if !res.Feasible {
		res.Violations = map[string]int{}
		for idx, v := range best.violations {
			if v > 0 {
				res.Violations[p.Stops[idx].ID] = v
			}
		}
	}
	return res, nil
}

// greedySeed builds the initial ordering: fixed stops become checkpoints
// sorted by mandated time, free stops are assigned to the inter-checkpoint
// segment overlapping their window most, and each segment is filled
// nearest-feasible-next from its entry point.
func greedySeed(p Problem) []int {
	n := len(p.Stops)
	fixed := []int{}
	free := []int{}
	for i, s := range p.Stops {
		if s.Fixed && s.Window != nil {
			fixed = append(fixed, i)
		} else {
			free = append(free, i)
		}
	}
	sort.SliceStable(fixed, func(a, b int) bool {
		wa, wb := p.Stops[fixed[a]].Window, p.Stops[fixed[b]].Window
		if !wa.EarliestStart.Equal(wb.EarliestStart) {
			return wa.EarliestStart.Before(wb.EarliestStart)
		}
		return p.Stops[fixed[a]].ID < p.Stops[fixed[b]].ID
	})

	segments := make([][]int, len(fixed)+1)
	for _, f := range free {
		seg := segmentFor(p, fixed, f)
		segments[seg] = append(segments[seg], f)
	}

	order := make([]int, 0, n)
	prev := 0 // matrix index of current position
	now := p.AnchorDepart
	for seg := 0; seg <= len(fixed); seg++ {
		remaining := append([]int(nil), segments[seg]...)
		for len(remaining) > 0 {
			pick := pickNext(p, prev, now, remaining)
			idx := remaining[pick]
			remaining = append(remaining[:pick], remaining[pick+1:]...)
			order = append(order, idx)
			now = departAfter(p, prev, now, idx)
			prev = idx + 1
		}
		if seg < len(fixed) {
			idx := fixed[seg]
			order = append(order, idx)
			now = departAfter(p, prev, now, idx)
			prev = idx + 1
		}
	}
	return order
}

// segmentFor assigns a free stop to the checkpoint segment whose time span
// overlaps its window most; ties go to the earlier segment.
func segmentFor(p Problem, fixed []int, idx int) int {
	if len(fixed) == 0 {
		return 0
	}
	win := effectiveWindow(p, idx)
	bestSeg, bestOverlap := 0, int64(-1)
	for seg := 0; seg <= len(fixed); seg++ {
		segStart := p.AnchorDepart
		if seg > 0 {
			f := p.Stops[fixed[seg-1]]
			segStart = f.Window.EarliestStart.Add(time.Duration(f.ServiceSec) * time.Second)
		}
		segEnd := p.Horizon.End
		if seg < len(fixed) {
			segEnd = p.Stops[fixed[seg]].Window.EarliestStart
		}
		lo := maxTime(segStart, win.EarliestStart)
		hi := minTime(segEnd, win.LatestStart)
		overlap := int64(hi.Sub(lo) / time.Second)
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestSeg = seg
		}
	}
	return bestSeg
}

// pickNext selects the next stop greedily: among candidates with a finite
// edge and an on-time arrival, the one with least travel; otherwise the
// least-violating one. Ties: priority desc, earliest window start, id.
func pickNext(p Problem, prev int, now time.Time, candidates []int) int {
	best := -1
	var bestScore score
	for k, idx := range candidates {
		travel := int64(unknownEdgeSec) // not chosen unless every edge is unknown
		if !p.Matrix.IsUnknown(prev, idx+1) {
			travel = int64(p.Matrix.Duration(prev, idx+1))
		}
		arr := now.Add(time.Duration(travel) * time.Second)
		win := effectiveWindow(p, idx)
		if arr.Before(win.EarliestStart) {
			arr = win.EarliestStart
		}
		late := int64(0)
		if arr.After(win.LatestStart) {
			late = int64(arr.Sub(win.LatestStart) / time.Second)
		}
		sc := score{late: late, travel: travel}
		if best == -1 || lessScore(sc, bestScore) ||
			(sc == bestScore && lessStop(p.Stops[idx], p.Stops[candidates[best]])) {
			best = k
			bestScore = sc
		}
	}
	return best
}

func lessScore(a, b score) bool {
	if a.late != b.late {
		return a.late < b.late
	}
	return a.travel < b.travel
}

type score struct {
	late   int64
	travel int64
}

// lessStop is the deterministic tie-break: HIGH before MEDIUM before LOW,
// then earliest original window start, then id.
func lessStop(a, b model.Stop) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	aw, bw := windowStart(a), windowStart(b)
	if !aw.Equal(bw) {
		return aw.Before(bw)
	}
	return a.ID < b.ID
}

func windowStart(s model.Stop) time.Time {
	if s.Window != nil {
		return s.Window.EarliestStart
	}
	return time.Time{}
}

func departAfter(p Problem, prev int, now time.Time, idx int) time.Time {
	travel := unknownEdgeSec
	if !p.Matrix.IsUnknown(prev, idx+1) {
		travel = p.Matrix.Duration(prev, idx+1)
	}
	arr := now.Add(time.Duration(travel) * time.Second)
	win := effectiveWindow(p, idx)
	if arr.Before(win.EarliestStart) {
		arr = win.EarliestStart
	}
	return arr.Add(time.Duration(p.Stops[idx].ServiceSec) * time.Second)
}

func effectiveWindow(p Problem, idx int) model.TimeWindow {
	if w := p.Stops[idx].Window; w != nil {
		return *w
	}
	return model.TimeWindow{EarliestStart: p.Horizon.Start, LatestStart: p.Horizon.End}
}

func relocate(order []int, i, j int) []int {
	cand := make([]int, 0, len(order))
	cand = append(cand, order[:i]...)
	cand = append(cand, order[i+1:]...)
	if j > len(cand) {
		j = len(cand)
	}
	cand = append(cand[:j], append([]int{order[i]}, cand[j:]...)...)
	return cand
}

// better decides move acceptance: a feasible incumbent only yields to a
// feasible, cheaper candidate; an infeasible incumbent prefers less total
// violation first. Equal-cost candidates fall through to the priority
// tie-break so equal-cost orderings prefer HIGH earlier.
func better(p Problem, cand, best evalResult, candOrder, bestOrder []int) bool {
	if !cand.valid {
		return false
	}
	if best.feasible() {
		if !cand.feasible() {
			return false
		}
		if cand.cost < best.cost-costEpsilon {
			return true
		}
		if cand.cost <= best.cost+costEpsilon {
			return lessOrder(p, candOrder, bestOrder)
		}
		return false
	}
	if cand.violationSec != best.violationSec {
		return cand.violationSec < best.violationSec
	}
	if cand.cost < best.cost-costEpsilon {
		return true
	}
	if cand.cost <= best.cost+costEpsilon {
		return lessOrder(p, candOrder, bestOrder)
	}
	return false
}

// lessOrder compares two orderings lexicographically by the stop tie-break.
func lessOrder(p Problem, a, b []int) bool {
	for k := range a {
		if a[k] == b[k] {
			continue
		}
		return lessStop(p.Stops[a[k]], p.Stops[b[k]])
	}
	return false
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
