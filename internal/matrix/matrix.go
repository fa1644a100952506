// Package matrix builds and caches pairwise travel-cost matrices for one
// planning session.
package matrix

import (
	"calroute/internal/model"
)

// Unknown marks a cell whose cost the oracle could not provide. The
// optimizer treats unknown edges as infinite cost.
const Unknown = -1

// Matrix is a square travel-cost matrix over a location set. By convention
// index 0 is the anchor. Never assumed symmetric.
type Matrix struct {
	Locs      []model.Location
	DurSec    [][]int
	DistM     [][]int
	Modes     [][]model.TravelMode
	Estimated [][]bool
}

func New(locs []model.Location) *Matrix {
	n := len(locs)
	m := &Matrix{
		Locs:      locs,
		DurSec:    make([][]int, n),
		DistM:     make([][]int, n),
		Modes:     make([][]model.TravelMode, n),
		Estimated: make([][]bool, n),
	}
	for i := 0; i < n; i++ {
		m.DurSec[i] = make([]int, n)
		m.DistM[i] = make([]int, n)
		m.Modes[i] = make([]model.TravelMode, n)
		m.Estimated[i] = make([]bool, n)
		for j := 0; j < n; j++ {
			if i != j {
				m.DurSec[i][j] = Unknown
				m.DistM[i][j] = Unknown
			}
		}
	}
	return m
}

func (m *Matrix) N() int { return len(m.Locs) }

func (m *Matrix) IsUnknown(i, j int) bool { return m.DurSec[i][j] < 0 }

// Duration returns the travel seconds for the ordered pair, Unknown if the
// edge has no finite cost.
func (m *Matrix) Duration(i, j int) int { return m.DurSec[i][j] }

func (m *Matrix) Distance(i, j int) int { return m.DistM[i][j] }

// LegMode returns the winning travel mode for the pair (meaningful after a
// multi-mode build; otherwise the build mode).
func (m *Matrix) LegMode(i, j int) model.TravelMode { return m.Modes[i][j] }

// Sub selects rows/columns by index, preserving order. Index 0 of idx
// becomes the new anchor.
func (m *Matrix) Sub(idx []int) *Matrix {
	locs := make([]model.Location, len(idx))
	for k, i := range idx {
		locs[k] = m.Locs[i]
	}
	out := New(locs)
	for a, i := range idx {
		for b, j := range idx {
			out.DurSec[a][b] = m.DurSec[i][j]
			out.DistM[a][b] = m.DistM[i][j]
			out.Modes[a][b] = m.Modes[i][j]
			out.Estimated[a][b] = m.Estimated[i][j]
		}
	}
	return out
}

// Repair fills repairable unknown cells with a one-hop estimate
// (min over k of d[i][k]+d[k][j]), marking them Estimated. Cells with no
// finite one-hop path stay Unknown. Returns the number of repaired cells.
func (m *Matrix) Repair() int {
	n := m.N()
	repaired := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || !m.IsUnknown(i, j) {
				continue
			}
			bestDur, bestDist := -1, -1
			var bestMode model.TravelMode
			for k := 0; k < n; k++ {
				if k == i || k == j || m.IsUnknown(i, k) || m.IsUnknown(k, j) {
					continue
				}
				d := m.DurSec[i][k] + m.DurSec[k][j]
				if bestDur < 0 || d < bestDur {
					bestDur = d
					bestDist = m.DistM[i][k] + m.DistM[k][j]
					bestMode = m.Modes[i][k]
				}
			}
			if bestDur >= 0 {
				m.DurSec[i][j] = bestDur
				m.DistM[i][j] = bestDist
				m.Modes[i][j] = bestMode
				m.Estimated[i][j] = true
				repaired++
			}
		}
	}
	return repaired
}

// MedianDuration returns the median of all finite off-diagonal durations,
// or 0 when none exist.
func (m *Matrix) MedianDuration() int {
	vals := []int{}
	for i := 0; i < m.N(); i++ {
		for j := 0; j < m.N(); j++ {
			if i != j && !m.IsUnknown(i, j) {
				vals = append(vals, m.DurSec[i][j])
			}
		}
	}
	if len(vals) == 0 {
		return 0
	}
	// insertion sort; matrices here are tens of stops, not thousands
	for i := 1; i < len(vals); i++ {
		for j := i; j > 0 && vals[j] < vals[j-1]; j-- {
			vals[j], vals[j-1] = vals[j-1], vals[j]
		}
	}
	return vals[len(vals)/2]
}
