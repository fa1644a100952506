// Package sched owns per-user planning sessions: the initial day plan and
// event-driven replanning. Each session serializes its own replans; a
// debounce window batches event bursts into a single optimizer run.
package sched

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"calroute/internal/cluster"
	"calroute/internal/config"
	"calroute/internal/geo"
	"calroute/internal/matrix"
	"calroute/internal/metrics"
	"calroute/internal/model"
	"calroute/internal/opt"
	"calroute/internal/store"
)

// State is the session lifecycle: a fresh plan is Applied, inbound events
// mark it Dirty, a replan runs as Replanning, and its result returns the
// session to Applied. A failed run retains the previous plan and settles
// back in Clean.
type State string

const (
	StateClean      State = "clean"
	StateDirty      State = "dirty"
	StateReplanning State = "replanning"
	StateApplied    State = "applied"
)

// Publish delivers a fresh planning result to subscribers (SSE/WS broker).
type Publish func(userID string, res model.ItineraryResult)

// Planner manages one Session per user.
type Planner struct {
	cfg    config.Config
	oracle geo.Oracle
	store  store.Store

	publish Publish
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewPlanner(cfg config.Config, oracle geo.Oracle, st store.Store) *Planner {
	return &Planner{
		cfg:      cfg,
		oracle:   oracle,
		store:    st,
		publish:  func(string, model.ItineraryResult) {},
		now:      time.Now,
		sessions: map[string]*Session{},
	}
}

// SetPublish installs the broker hook for replan results.
func (p *Planner) SetPublish(fn Publish) {
	if fn != nil {
		p.publish = fn
	}
}

// Config returns the effective planner configuration.
func (p *Planner) Config() config.Config { return p.cfg }

func (p *Planner) session(userID string, create bool) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[userID]
	if !ok && create {
		s = &Session{
			userID:  userID,
			planner: p,
			stops:   map[string]model.Stop{},
			state:   StateClean,
			builder: matrix.NewBuilder(p.oracle, p.cfg.Oracle),
			fire:    debounce.New(p.cfg.Debounce()),
		}
		p.sessions[userID] = s
	}
	return s
}

// PlanDay runs the full pipeline for a fresh day plan. The session's stop
// set, anchor, and horizon are replaced by the request.
func (p *Planner) PlanDay(ctx context.Context, req model.PlanRequest) (model.ItineraryResult, error) {
	s := p.session(req.UserID, true)
	s.mu.Lock()
	s.stops = map[string]model.Stop{}
	for _, st := range req.Stops {
		s.stops[st.ID] = st
	}
	s.anchor = req.Anchor
	s.anchorTime = req.AnchorTime
	if s.anchorTime.IsZero() {
		s.anchorTime = p.now()
	}
	s.mode = req.Mode
	if s.mode == "" {
		s.mode = model.ModeDriving
	}
	s.modes = req.Modes
	s.horizon = req.Horizon
	if s.horizon.End.IsZero() {
		s.horizon = model.TimeRange{Start: s.anchorTime, End: s.anchorTime.Add(16 * time.Hour)}
	}
	s.mu.Unlock()

	res := s.replan(ctx, "plan")
	return res, nil
}

// ApplyEvent mutates the session's stop set and schedules a debounced
// replan. Events arriving before a plan exists are rejected.
func (p *Planner) ApplyEvent(_ context.Context, req model.EventRequest) error {
	s := p.session(req.UserID, false)
	if s == nil {
		return fmt.Errorf("no active plan for user %s", req.UserID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyLocked(req.Event); err != nil {
		return err
	}
	s.state = StateDirty
	s.pending = append(s.pending, req.Event)
	s.fire(s.replanDebounced)
	return nil
}

// UpdateAnchor moves the session's current location; the next replan departs
// from here.
func (p *Planner) UpdateAnchor(userID string, loc model.Location) error {
	s := p.session(userID, false)
	if s == nil {
		return fmt.Errorf("no active plan for user %s", userID)
	}
	s.mu.Lock()
	s.anchor = loc
	s.mu.Unlock()
	return nil
}

// SessionInfo is the debug snapshot of one session.
type SessionInfo struct {
	UserID  string `json:"userId"`
	State   State  `json:"state"`
	Stops   int    `json:"stops"`
	Pending int    `json:"pendingEvents"`
	HasPlan bool   `json:"hasPlan"`
}

// Snapshot lists all sessions for the debug endpoint.
func (p *Planner) Snapshot() []SessionInfo {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)

	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		s := p.session(id, false)
		if s == nil {
			continue
		}
		s.mu.Lock()
		out = append(out, SessionInfo{
			UserID:  s.userID,
			State:   s.state,
			Stops:   len(s.stops),
			Pending: len(s.pending),
			HasPlan: s.current != nil,
		})
		s.mu.Unlock()
	}
	return out
}

// Session is one user's live planning state. All fields are guarded by mu;
// run serializes replans so only one solve is active per user, with at most
// one debounced pass queued behind it.
type Session struct {
	userID  string
	planner *Planner

	mu         sync.Mutex
	state      State
	stops      map[string]model.Stop
	anchor     model.Location
	anchorTime time.Time
	mode       model.TravelMode
	modes      []model.TravelMode
	horizon    model.TimeRange
	current    *model.Itinerary
	pending    []model.RescheduleEvent

	builder *matrix.Builder
	fire    func(func())
	run     sync.Mutex

	replanning bool
	queued     bool
}

func (s *Session) applyLocked(ev model.RescheduleEvent) error {
	switch ev.Type {
	case model.EventTaskDelayed:
		st, ok := s.stops[ev.StopID]
		if !ok {
			return fmt.Errorf("unknown stop %s", ev.StopID)
		}
		if ev.NewEarliestStart.IsZero() {
			return fmt.Errorf("task_delayed requires newEarliestStart")
		}
		if st.Window != nil {
			delta := ev.NewEarliestStart.Sub(st.Window.EarliestStart)
			st.Window = &model.TimeWindow{
				EarliestStart: st.Window.EarliestStart.Add(delta),
				LatestStart:   st.Window.LatestStart.Add(delta),
			}
		} else {
			st.Window = &model.TimeWindow{EarliestStart: ev.NewEarliestStart, LatestStart: s.horizon.End}
		}
		s.stops[st.ID] = st
	case model.EventTaskCancelled, model.EventTaskCompleted:
		if _, ok := s.stops[ev.StopID]; !ok {
			return fmt.Errorf("unknown stop %s", ev.StopID)
		}
		delete(s.stops, ev.StopID)
	case model.EventTaskAdded:
		if ev.Stop == nil || ev.Stop.ID == "" {
			return fmt.Errorf("task_added requires a stop")
		}
		s.stops[ev.Stop.ID] = *ev.Stop
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// replanDebounced is the debounce callback. A replan already in flight sets
// queued; the finishing run fires one more pass so no batched event is lost.
func (s *Session) replanDebounced() {
	s.mu.Lock()
	if s.replanning {
		s.queued = true
		s.mu.Unlock()
		return
	}
	s.replanning = true
	s.state = StateReplanning
	trigger := triggerLabel(s.pending)
	s.pending = nil
	s.mu.Unlock()

	go func() {
		res := s.replan(context.Background(), trigger)
		s.planner.publish(s.userID, res)

		s.mu.Lock()
		s.replanning = false
		again := s.queued
		s.queued = false
		s.mu.Unlock()
		if again {
			s.replanDebounced()
		}
	}()
}

func triggerLabel(events []model.RescheduleEvent) string {
	if len(events) == 0 {
		return "event"
	}
	return string(events[0].Type)
}

// replan runs the pipeline: matrix build, one-hop repair, clustering, solve,
// expansion, persistence. A failed run retains the previous itinerary.
// Holding run for the whole pipeline keeps replans strictly ordered per
// session: a planDay arriving mid-replan waits its turn, and the itinerary
// committed last is always the one solved from the latest session state.
func (s *Session) replan(ctx context.Context, trigger string) model.ItineraryResult {
	s.run.Lock()
	defer s.run.Unlock()

	s.mu.Lock()
	s.state = StateReplanning
	stops := make([]model.Stop, 0, len(s.stops))
	for _, st := range s.stops {
		stops = append(stops, st)
	}
	sort.Slice(stops, func(a, b int) bool { return stops[a].ID < stops[b].ID })
	anchor := s.anchor
	anchorTime := s.anchorTime
	mode := s.mode
	modes := s.modes
	horizon := s.horizon
	current := s.current
	s.mu.Unlock()

	now := s.planner.now()
	var inProgress *model.ItineraryStop
	if trigger != "plan" && now.After(anchorTime) {
		anchorTime = now
		// When the user is mid-service at a stop, the replan departs from
		// that stop at its scheduled departure; its slot is kept as-is.
		if ip, rest := splitInProgress(stops, current, now); ip != nil {
			inProgress = ip
			for _, st := range stops {
				if st.ID == ip.StopID {
					anchor = st.Loc
				}
			}
			stops = rest
			if ip.Departure.After(anchorTime) {
				anchorTime = ip.Departure
			}
		}
	}

	res, it, err := s.solve(ctx, stops, anchor, anchorTime, mode, modes, horizon, inProgress)
	if err != nil {
		log.Printf("sched: replan failed user=%s trigger=%s: %v", s.userID, trigger, err)
		metrics.Reschedules.WithLabelValues(trigger, "failed").Inc()
		s.mu.Lock()
		s.state = StateClean
		s.mu.Unlock()
		return model.ItineraryResult{Status: model.StatusFailed, Reason: err.Error()}
	}

	s.mu.Lock()
	s.current = &it
	s.state = StateApplied
	s.mu.Unlock()

	status := "replanned"
	if res.Status == model.StatusBestEffort {
		status = "best_effort"
	}
	metrics.Reschedules.WithLabelValues(trigger, status).Inc()
	return res
}

// splitInProgress finds the stop whose scheduled slot spans now, returning
// its current slot and the remaining stops to re-sequence.
func splitInProgress(stops []model.Stop, current *model.Itinerary, now time.Time) (*model.ItineraryStop, []model.Stop) {
	if current == nil {
		return nil, stops
	}
	for _, is := range current.Stops {
		if is.Arrival.After(now) || !is.Departure.After(now) {
			continue
		}
		rest := make([]model.Stop, 0, len(stops))
		found := false
		for _, st := range stops {
			if st.ID == is.StopID {
				found = true
				continue
			}
			rest = append(rest, st)
		}
		if !found {
			return nil, stops
		}
		slot := is
		return &slot, rest
	}
	return nil, stops
}

func (s *Session) solve(ctx context.Context, stops []model.Stop, anchor model.Location,
	anchorTime time.Time, mode model.TravelMode, modes []model.TravelMode,
	horizon model.TimeRange, inProgress *model.ItineraryStop) (model.ItineraryResult, model.Itinerary, error) {

	cfg := s.planner.cfg
	locs := make([]model.Location, 0, len(stops)+1)
	locs = append(locs, anchor)
	for _, st := range stops {
		locs = append(locs, st.Loc)
	}

	var m *matrix.Matrix
	var err error
	if len(modes) > 1 {
		m, err = s.builder.BuildBest(ctx, locs, modes)
	} else {
		m, err = s.builder.Build(ctx, locs, mode)
	}
	if err != nil {
		return model.ItineraryResult{}, model.Itinerary{}, fmt.Errorf("build cost matrix: %w", err)
	}
	if n := m.Repair(); n > 0 {
		log.Printf("sched: repaired %d unknown matrix cells user=%s", n, s.userID)
	}

	// Clustering reduces the solver's stop set; the itinerary expands back.
	var cl *cluster.Clustering
	solveStops := stops
	solveMatrix := m
	if cfg.Cluster.Enabled && len(stops) > 2 {
		cl = cluster.Build(stops, func(i, j int) int {
			return m.Duration(i+1, j+1)
		}, cfg.Cluster.ThresholdFactor)
		if len(cl.Stops) < len(stops) {
			idx := make([]int, 0, len(cl.Stops)+1)
			idx = append(idx, 0)
			for _, r := range cl.RepIdx {
				idx = append(idx, r+1)
			}
			solveStops = cl.Stops
			solveMatrix = m.Sub(idx)
		} else {
			cl = nil
		}
	}

	start := time.Now()
	sol, err := opt.Solve(opt.Problem{
		Stops:        solveStops,
		Matrix:       solveMatrix,
		AnchorDepart: anchorTime,
		Horizon:      horizon,
		Weights: opt.Weights{
			Wait: cfg.Solver.WaitWeight,
			Violation: [3]float64{
				cfg.Solver.PenaltyLow,
				cfg.Solver.PenaltyMedium,
				cfg.Solver.PenaltyHigh,
			},
		},
		MaxIterations: cfg.Solver.MaxIterations,
		TimeBudget:    cfg.SolveBudget(),
	})
	if err != nil {
		metrics.SolveDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		return model.ItineraryResult{}, model.Itinerary{}, err
	}
	statusLabel := "feasible"
	if !sol.Feasible {
		statusLabel = "best_effort"
	}
	metrics.SolveDuration.WithLabelValues(statusLabel).Observe(sol.Metrics.Elapsed.Seconds())

	seq := make([]model.ItineraryStop, len(sol.Order))
	prev := 0
	for k, idx := range sol.Order {
		st := solveStops[idx]
		t := sol.Times[k]
		seq[k] = model.ItineraryStop{
			StopID:    st.ID,
			Order:     k,
			Arrival:   t.Arrival,
			Departure: t.Departure,
			WaitSec:   t.WaitSec,
			Leg: &model.TravelLeg{
				From:      solveMatrix.Locs[prev],
				To:        st.Loc,
				Mode:      solveMatrix.LegMode(prev, idx+1),
				TravelSec: t.TravelSec,
				DistanceM: legDistance(solveMatrix, prev, idx+1),
				Estimated: solveMatrix.Estimated[prev][idx+1] || t.EstimatedEdge,
			},
		}
		prev = idx + 1
	}
	if cl != nil {
		seq = cl.Expand(seq)
	}
	if inProgress != nil {
		seq = append([]model.ItineraryStop{*inProgress}, seq...)
		for i := range seq {
			seq[i].Order = i
		}
	}

	it := model.Itinerary{
		UserID:   s.userID,
		PlanDate: horizon.Start.Format("2006-01-02"),
		Anchor:   anchor,
		Mode:     mode,
		Stops:    seq,
	}
	for _, t := range sol.Times {
		it.TotalTravelSec += t.TravelSec
		it.TotalWaitSec += t.WaitSec
	}

	if err := s.planner.store.SaveItinerary(ctx, it); err != nil {
		return model.ItineraryResult{}, model.Itinerary{}, fmt.Errorf("save itinerary: %w", err)
	}

	opt.RecordMetrics(s.userID, it.PlanDate, sol.Metrics)
	planMx := map[string]any{
		"iterations":   sol.Metrics.Iterations,
		"improvements": sol.Metrics.Improvements,
		"seedCost":     sol.Metrics.SeedCost,
		"finalCost":    sol.Metrics.FinalCost,
		"violationSec": sol.Metrics.ViolationSec,
		"elapsedMs":    sol.Metrics.Elapsed.Milliseconds(),
		"feasible":     sol.Feasible,
		"stops":        len(stops),
		"solvedStops":  len(solveStops),
	}
	if err := s.planner.store.SavePlanMetrics(ctx, s.userID, it.PlanDate, planMx); err != nil {
		log.Printf("sched: save plan metrics user=%s: %v", s.userID, err)
	}

	res := model.ItineraryResult{Status: model.StatusFeasible, Itinerary: &it}
	if !sol.Feasible {
		res.Status = model.StatusBestEffort
		res.Violations = expandViolations(sol.Violations, cl)
	}
	return res, it, nil
}

func legDistance(m *matrix.Matrix, i, j int) int {
	if d := m.Distance(i, j); d > 0 {
		return d
	}
	return 0
}

// expandViolations maps violation seconds recorded against a super-stop onto
// each of its members.
func expandViolations(v map[string]int, cl *cluster.Clustering) map[string]int {
	if cl == nil {
		return v
	}
	out := map[string]int{}
	for id, sec := range v {
		if strings.HasPrefix(id, cluster.SuperPrefix) {
			for _, mem := range cl.Members(id) {
				out[mem.ID] = sec
			}
			continue
		}
		out[id] = sec
	}
	return out
}
