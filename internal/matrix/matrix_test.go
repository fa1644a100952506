package matrix

import (
	"testing"

	"calroute/internal/model"
)

func locs(names ...string) []model.Location {
	out := make([]model.Location, len(names))
	for i, n := range names {
		out[i] = model.Location{Address: n}
	}
	return out
}

func TestRepairOneHop(t *testing.T) {
	m := New(locs("x", "a", "b"))
	// x->a and a->b priced; x->b missing and repairable via a
	m.DurSec[0][1], m.DistM[0][1] = 300, 3000
	m.DurSec[1][0], m.DistM[1][0] = 300, 3000
	m.DurSec[1][2], m.DistM[1][2] = 400, 4000
	m.DurSec[2][1], m.DistM[2][1] = 400, 4000
	for i := range m.DurSec {
		for j := range m.DurSec[i] {
			if i != j {
				m.Modes[i][j] = model.ModeDriving
			}
		}
	}

	n := m.Repair()
	if n != 2 {
		t.Fatalf("repaired %d cells, want 2", n)
	}
	if m.IsUnknown(0, 2) || m.Duration(0, 2) != 700 {
		t.Fatalf("x->b = %d, want 700", m.Duration(0, 2))
	}
	if !m.Estimated[0][2] {
		t.Fatal("repaired cell must be flagged estimated")
	}
	if m.Distance(0, 2) != 7000 {
		t.Fatalf("x->b distance = %d, want 7000", m.Distance(0, 2))
	}
}

func TestRepairLeavesUnreachable(t *testing.T) {
	m := New(locs("x", "a", "island"))
	m.DurSec[0][1], m.DurSec[1][0] = 300, 300
	if n := m.Repair(); n != 0 {
		t.Fatalf("repaired %d cells, want 0", n)
	}
	if !m.IsUnknown(0, 2) {
		t.Fatal("island must stay unknown")
	}
}

func TestSubSelectsRows(t *testing.T) {
	m := New(locs("x", "a", "b", "c"))
	v := 0
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i != j {
				v++
				m.DurSec[i][j] = v
			}
		}
	}
	sub := m.Sub([]int{0, 2})
	if sub.N() != 2 {
		t.Fatalf("sub size = %d", sub.N())
	}
	if sub.Duration(0, 1) != m.Duration(0, 2) || sub.Duration(1, 0) != m.Duration(2, 0) {
		t.Fatalf("sub cells do not match source: %d/%d", sub.Duration(0, 1), sub.Duration(1, 0))
	}
	if sub.Locs[1].Address != "b" {
		t.Fatalf("sub loc = %s, want b", sub.Locs[1].Address)
	}
}

func TestMedianDuration(t *testing.T) {
	m := New(locs("x", "a", "b"))
	m.DurSec[0][1] = 100
	m.DurSec[1][0] = 300
	m.DurSec[1][2] = 500
	// remaining pairs unknown and excluded
	if got := m.MedianDuration(); got != 300 {
		t.Fatalf("median = %d, want 300", got)
	}
	if got := New(locs("x")).MedianDuration(); got != 0 {
		t.Fatalf("empty median = %d, want 0", got)
	}
}
