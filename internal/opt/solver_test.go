package opt

import (
	"testing"
	"time"

	"calroute/internal/matrix"
	"calroute/internal/model"
)

func day(hh, mm int) time.Time {
	return time.Date(2025, 6, 2, hh, mm, 0, 0, time.UTC)
}

func window(fromH, fromM, toH, toM int) *model.TimeWindow {
	return &model.TimeWindow{EarliestStart: day(fromH, fromM), LatestStart: day(toH, toM)}
}

// uniformMatrix builds an n x n matrix where every off-diagonal edge costs
// sec seconds, except pairs sharing a location index in same (0-based
// matrix indices), which cost zero.
func uniformMatrix(n, sec int, same ...[2]int) *matrix.Matrix {
	locs := make([]model.Location, n)
	for i := range locs {
		locs[i] = model.Location{Address: string(rune('A' + i))}
	}
	m := matrix.New(locs)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				m.DurSec[i][j] = sec
				m.DistM[i][j] = sec * 10
				m.Modes[i][j] = model.ModeDriving
			}
		}
	}
	for _, p := range same {
		m.DurSec[p[0]][p[1]] = 0
		m.DurSec[p[1]][p[0]] = 0
	}
	return m
}

func testProblem(stops []model.Stop, m *matrix.Matrix, depart time.Time) Problem {
	return Problem{
		Stops:        stops,
		Matrix:       m,
		AnchorDepart: depart,
		Horizon:      model.TimeRange{Start: day(8, 0), End: day(20, 0)},
		Weights:      Weights{Wait: 0.3, Violation: [3]float64{2, 4, 10}},
	}
}

func TestSolveEmpty(t *testing.T) {
	res, err := Solve(testProblem(nil, matrix.New([]model.Location{{Address: "X"}}), day(8, 45)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !res.Feasible || len(res.Order) != 0 {
		t.Fatalf("empty problem should be trivially feasible, got %+v", res)
	}
}

func TestSolveSingleStopWaitsForWindow(t *testing.T) {
	// 10 minutes of travel, window opens at 09:30
	stops := []model.Stop{{
		ID: "a", Loc: model.Location{Address: "B"}, ServiceSec: 600,
		Window: window(9, 30, 11, 0),
	}}
	res, err := Solve(testProblem(stops, uniformMatrix(2, 600), day(8, 45)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !res.Feasible {
		t.Fatalf("expected feasible, got violations %v", res.Violations)
	}
	if got := res.Times[0].Arrival; !got.Equal(day(9, 30)) {
		t.Fatalf("arrival = %v, want 09:30", got)
	}
	if res.Times[0].WaitSec != 35*60 {
		t.Fatalf("wait = %d, want %d", res.Times[0].WaitSec, 35*60)
	}
	if got := res.Times[0].Departure; !got.Equal(day(9, 40)) {
		t.Fatalf("departure = %v, want 09:40", got)
	}
}

// Two stops: A is at the anchor's location with a 09:00-09:30 window, B is
// 20 minutes away with a 10:00-11:00 window. Departing 08:45, the only
// feasible ordering is A then B, with B waiting for its window to open.
func TestSolveTwoStopsFeasible(t *testing.T) {
	m := uniformMatrix(3, 1200, [2]int{0, 1})
	stops := []model.Stop{
		{ID: "a", Loc: m.Locs[1], ServiceSec: 900, Window: window(9, 0, 9, 30)},
		{ID: "b", Loc: m.Locs[2], ServiceSec: 1800, Window: window(10, 0, 11, 0)},
	}
	res, err := Solve(testProblem(stops, m, day(8, 45)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !res.Feasible {
		t.Fatalf("expected feasible, got violations %v", res.Violations)
	}
	if stops[res.Order[0]].ID != "a" || stops[res.Order[1]].ID != "b" {
		t.Fatalf("order = [%s %s], want [a b]", stops[res.Order[0]].ID, stops[res.Order[1]].ID)
	}
	if !res.Times[0].Arrival.Equal(day(9, 0)) || !res.Times[0].Departure.Equal(day(9, 15)) {
		t.Fatalf("stop a scheduled %v-%v, want 09:00-09:15", res.Times[0].Arrival, res.Times[0].Departure)
	}
	if !res.Times[1].Arrival.Equal(day(10, 0)) {
		t.Fatalf("stop b arrival = %v, want 10:00", res.Times[1].Arrival)
	}
	if res.Times[1].WaitSec != 25*60 {
		t.Fatalf("stop b wait = %d, want %d", res.Times[1].WaitSec, 25*60)
	}
}

// Tightening B's window to 09:00-09:10 makes the pair unsatisfiable; the
// solver must still return an ordering with violation seconds per stop.
func TestSolveBestEffortReportsViolations(t *testing.T) {
	m := uniformMatrix(3, 1200, [2]int{0, 1})
	stops := []model.Stop{
		{ID: "a", Loc: m.Locs[1], ServiceSec: 900, Window: window(9, 0, 9, 30)},
		{ID: "b", Loc: m.Locs[2], ServiceSec: 1800, Window: window(9, 0, 9, 10)},
	}
	res, err := Solve(testProblem(stops, m, day(8, 45)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Feasible {
		t.Fatal("expected best-effort result")
	}
	if len(res.Violations) == 0 {
		t.Fatal("expected per-stop violation seconds")
	}
	if v := res.Violations["b"]; v != 25*60 {
		t.Fatalf("violation for b = %d, want %d", v, 25*60)
	}
	if res.Metrics.ViolationSec == 0 {
		t.Fatal("metrics should carry total violation seconds")
	}
}

func TestSolveFixedStopPinnedExactly(t *testing.T) {
	m := uniformMatrix(4, 600)
	mandated := day(10, 0)
	stops := []model.Stop{
		{ID: "free1", Loc: m.Locs[1], ServiceSec: 600},
		{ID: "appt", Loc: m.Locs[2], ServiceSec: 1800, Fixed: true,
			Window: &model.TimeWindow{EarliestStart: mandated, LatestStart: mandated}},
		{ID: "free2", Loc: m.Locs[3], ServiceSec: 600},
	}
	res, err := Solve(testProblem(stops, m, day(9, 0)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if !res.Feasible {
		t.Fatalf("expected feasible, got violations %v", res.Violations)
	}
	for k, idx := range res.Order {
		if stops[idx].ID == "appt" {
			if !res.Times[k].Arrival.Equal(mandated) {
				t.Fatalf("fixed stop scheduled at %v, want %v", res.Times[k].Arrival, mandated)
			}
			return
		}
	}
	t.Fatal("fixed stop missing from order")
}

func TestSolveDeterministic(t *testing.T) {
	m := uniformMatrix(6, 600)
	stops := []model.Stop{
		{ID: "s1", Loc: m.Locs[1], ServiceSec: 300},
		{ID: "s2", Loc: m.Locs[2], ServiceSec: 300, Priority: model.PriorityHigh},
		{ID: "s3", Loc: m.Locs[3], ServiceSec: 300, Window: window(11, 0, 12, 0)},
		{ID: "s4", Loc: m.Locs[4], ServiceSec: 300},
		{ID: "s5", Loc: m.Locs[5], ServiceSec: 300, Priority: model.PriorityMedium},
	}
	first, err := Solve(testProblem(stops, m, day(9, 0)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for run := 0; run < 5; run++ {
		again, err := Solve(testProblem(stops, m, day(9, 0)))
		if err != nil {
			t.Fatalf("Solve run %d: %v", run, err)
		}
		for k := range first.Order {
			if first.Order[k] != again.Order[k] {
				t.Fatalf("run %d diverged: %v vs %v", run, first.Order, again.Order)
			}
		}
	}
}

func TestSolveNoReachableStops(t *testing.T) {
	m := matrix.New([]model.Location{{Address: "X"}, {Address: "Y"}})
	stops := []model.Stop{{ID: "a", Loc: m.Locs[1], ServiceSec: 60}}
	if _, err := Solve(testProblem(stops, m, day(9, 0))); err != ErrNoReachableStops {
		t.Fatalf("err = %v, want ErrNoReachableStops", err)
	}
}

// An unknown edge inside the matrix must never surface as a feasible plan,
// but the stop still gets a slot.
func TestSolveUnknownEdgeNeverFeasible(t *testing.T) {
	m := uniformMatrix(3, 600)
	// both directions between the two stops are unpriced
	m.DurSec[1][2] = matrix.Unknown
	m.DurSec[2][1] = matrix.Unknown
	// and anchor cannot reach stop 2 directly either
	m.DurSec[0][2] = matrix.Unknown
	stops := []model.Stop{
		{ID: "a", Loc: m.Locs[1], ServiceSec: 60},
		{ID: "b", Loc: m.Locs[2], ServiceSec: 60},
	}
	res, err := Solve(testProblem(stops, m, day(9, 0)))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Feasible {
		t.Fatal("schedule over an unknown edge must not be feasible")
	}
	if len(res.Order) != 2 {
		t.Fatalf("both stops should be sequenced, got %v", res.Order)
	}
}

func TestRecordAndGetMetrics(t *testing.T) {
	m := Metrics{Iterations: 7, FinalCost: 42}
	RecordMetrics("u1", "2025-06-02", m)
	got, ok := GetMetrics("u1", "2025-06-02")
	if !ok || got.Iterations != 7 {
		t.Fatalf("GetMetrics = %+v, %v", got, ok)
	}
	if _, ok := GetMetrics("u1", "2025-06-03"); ok {
		t.Fatal("unexpected metrics for other day")
	}
}
