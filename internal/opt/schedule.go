package opt

import "time"

// unknownEdgeSec prices a transition the oracle could not cost. Any
// schedule using one is infeasible, but the stop still gets a slot instead
// of being dropped; the penalty keeps local search from ever preferring an
// unknown edge when a priced one exists.
const unknownEdgeSec = 8 * 3600

// StopTime is the timing assigned to one ordered stop.
type StopTime struct {
	Arrival   time.Time
	Departure time.Time
	WaitSec   int
	TravelSec int
	// EstimatedEdge marks arrivals over an unpriced transition.
	EstimatedEdge bool
}

type evalResult struct {
	valid        bool
	times        []StopTime
	travelSec    int
	waitSec      int
	violationSec int
	violations   []int // per stop index, seconds of window violation
	unknownEdges int
	cost         float64
}

func (e evalResult) feasible() bool { return e.violationSec == 0 && e.unknownEdges == 0 }

// evaluate propagates arrival/departure times along an ordering and prices
// it with the objective: travel + waitWeight*wait + per-priority violation
// penalties. Waiting for a window to open is idle time, not a violation.
// Fixed stops must be hit at their mandated time exactly; any deviation is
// a violation.
func evaluate(p Problem, order []int) evalResult {
	res := evalResult{
		valid:      true,
		times:      make([]StopTime, len(order)),
		violations: make([]int, len(p.Stops)),
	}
	t := p.AnchorDepart
	prev := 0
	for k, idx := range order {
		s := p.Stops[idx]
		travel := unknownEdgeSec
		estimated := true
		if !p.Matrix.IsUnknown(prev, idx+1) {
			travel = p.Matrix.Duration(prev, idx+1)
			estimated = false
		} else {
			res.unknownEdges++
			res.violations[idx] += unknownEdgeSec
			res.violationSec += unknownEdgeSec
		}
		arr := t.Add(time.Duration(travel) * time.Second)
		wait := 0

		if s.Fixed && s.Window != nil {
			mandated := s.Window.EarliestStart
			if arr.Before(mandated) {
				wait = int(mandated.Sub(arr) / time.Second)
				arr = mandated
			} else if arr.After(mandated) {
				late := int(arr.Sub(mandated) / time.Second)
				res.violations[idx] += late
				res.violationSec += late
			}
		} else if s.Window != nil {
			if arr.Before(s.Window.EarliestStart) {
				wait = int(s.Window.EarliestStart.Sub(arr) / time.Second)
				arr = s.Window.EarliestStart
			}
			if arr.After(s.Window.LatestStart) {
				late := int(arr.Sub(s.Window.LatestStart) / time.Second)
				res.violations[idx] += late
				res.violationSec += late
			}
		}

		dep := arr.Add(time.Duration(s.ServiceSec) * time.Second)
		res.times[k] = StopTime{
			Arrival:       arr,
			Departure:     dep,
			WaitSec:       wait,
			TravelSec:     travel,
			EstimatedEdge: estimated,
		}
		res.travelSec += travel
		res.waitSec += wait
		t = dep
		prev = idx + 1
	}

	res.cost = float64(res.travelSec) + p.Weights.Wait*float64(res.waitSec)
	for idx, v := range res.violations {
		if v > 0 {
			res.cost += p.Weights.Violation[p.Stops[idx].Priority] * float64(v)
		}
	}
	return res
}
