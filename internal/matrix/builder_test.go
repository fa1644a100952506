package matrix

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"calroute/internal/config"
	"calroute/internal/geo"
	"calroute/internal/model"
)

// fakeOracle answers from a fixed table and counts calls; listed pairs fail.
type fakeOracle struct {
	costs map[string]geo.Cost
	fail  map[string]bool
	calls atomic.Int64
}

func pairKey(from, to model.Location, mode model.TravelMode) string {
	return fmt.Sprintf("%s|%s|%s", from.Key(), to.Key(), mode)
}

func (f *fakeOracle) TravelCost(_ context.Context, from, to model.Location, mode model.TravelMode) (geo.Cost, error) {
	f.calls.Add(1)
	k := pairKey(from, to, mode)
	if f.fail[k] {
		return geo.Cost{}, geo.ErrUnknown
	}
	c, ok := f.costs[k]
	if !ok {
		return geo.Cost{}, geo.ErrUnknown
	}
	return c, nil
}

func fullCosts(ls []model.Location, mode model.TravelMode, sec int) map[string]geo.Cost {
	out := map[string]geo.Cost{}
	for i, a := range ls {
		for j, b := range ls {
			if i != j {
				out[pairKey(a, b, mode)] = geo.Cost{DurationSec: sec, DistanceM: sec * 10}
			}
		}
	}
	return out
}

func testOracleCfg() config.Oracle {
	return config.Oracle{Concurrency: 4, RateQPS: 1000, RateBurst: 100, TimeoutMs: 1000, CacheTTLMin: 60}
}

func TestBuildFillsAllPairs(t *testing.T) {
	ls := locs("x", "a", "b")
	f := &fakeOracle{costs: fullCosts(ls, model.ModeDriving, 600)}
	b := NewBuilder(f, testOracleCfg())

	m, err := b.Build(context.Background(), ls, model.ModeDriving)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i != j && m.Duration(i, j) != 600 {
				t.Fatalf("cell %d,%d = %d", i, j, m.Duration(i, j))
			}
		}
	}
	if m.LegMode(0, 1) != model.ModeDriving {
		t.Fatalf("mode = %s", m.LegMode(0, 1))
	}
}

func TestBuildCachesPairs(t *testing.T) {
	ls := locs("x", "a")
	f := &fakeOracle{costs: fullCosts(ls, model.ModeDriving, 600)}
	b := NewBuilder(f, testOracleCfg())

	if _, err := b.Build(context.Background(), ls, model.ModeDriving); err != nil {
		t.Fatalf("Build: %v", err)
	}
	first := f.calls.Load()
	if _, err := b.Build(context.Background(), ls, model.ModeDriving); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if f.calls.Load() != first {
		t.Fatalf("second build hit the oracle: %d -> %d calls", first, f.calls.Load())
	}
}

func TestBuildDegradesFailedPairs(t *testing.T) {
	ls := locs("x", "a", "b")
	costs := fullCosts(ls, model.ModeDriving, 600)
	f := &fakeOracle{
		costs: costs,
		fail:  map[string]bool{pairKey(ls[0], ls[2], model.ModeDriving): true},
	}
	b := NewBuilder(f, testOracleCfg())

	m, err := b.Build(context.Background(), ls, model.ModeDriving)
	if err != nil {
		t.Fatalf("oracle failure must not abort the build: %v", err)
	}
	if !m.IsUnknown(0, 2) {
		t.Fatal("failed pair should be unknown")
	}
	if m.IsUnknown(0, 1) || m.IsUnknown(2, 0) {
		t.Fatal("other pairs should still be priced")
	}
}

func TestBuildBestPicksFastestMode(t *testing.T) {
	ls := locs("x", "a")
	costs := fullCosts(ls, model.ModeDriving, 600)
	// walking beats driving one way only
	costs[pairKey(ls[0], ls[1], model.ModeWalking)] = geo.Cost{DurationSec: 120, DistanceM: 200}
	costs[pairKey(ls[1], ls[0], model.ModeWalking)] = geo.Cost{DurationSec: 900, DistanceM: 200}
	f := &fakeOracle{costs: costs}
	b := NewBuilder(f, testOracleCfg())

	m, err := b.BuildBest(context.Background(), ls, []model.TravelMode{model.ModeDriving, model.ModeWalking})
	if err != nil {
		t.Fatalf("BuildBest: %v", err)
	}
	if m.Duration(0, 1) != 120 || m.LegMode(0, 1) != model.ModeWalking {
		t.Fatalf("x->a = %d via %s, want 120 via walking", m.Duration(0, 1), m.LegMode(0, 1))
	}
	if m.Duration(1, 0) != 600 || m.LegMode(1, 0) != model.ModeDriving {
		t.Fatalf("a->x = %d via %s, want 600 via driving", m.Duration(1, 0), m.LegMode(1, 0))
	}
}
