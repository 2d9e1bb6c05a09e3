package l4trees

import (
	"math"
	"sort"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Candidate is a detected tree top.
type Candidate struct {
	Row    int
	Col    int
	Index  int
	Height float32
}

// Detector finds local maxima in a surface model.
//
// MinSeparation is in map units; zero disables suppression.
type Detector struct {
	MinHeight     float64
	MinSeparation float64
}

type step struct{ dcol, drow int }

// A neighbour in a forward direction disqualifies only when strictly
// higher; a backward neighbour also disqualifies when equal. Exactly one
// cell of an equal-height plateau survives.
var (
	forward  = [4]step{{+1, 0}, {0, +1}, {+1, +1}, {-1, +1}}
	backward = [4]step{{-1, 0}, {0, -1}, {-1, -1}, {+1, -1}}
)

// Detect returns the accepted candidates in cell index order.
func (d Detector) Detect(csm *raster.Raster[float32]) []Candidate {
	cands := d.localMaxima(csm)
	if d.MinSeparation > 0 && len(cands) > 1 {
		cands = d.suppress(csm.Alignment, cands)
	}
	return cands
}

func (d Detector) localMaxima(csm *raster.Raster[float32]) []Candidate {
	var out []Candidate
	for row := 0; row < csm.Rows; row++ {
		for col := 0; col < csm.Cols; col++ {
			i := csm.Index(row, col)
			if !csm.Valid[i] {
				continue
			}
			h := csm.Values[i]
			if float64(h) < d.MinHeight {
				continue
			}
			if isPeak(csm, row, col, h) {
				out = append(out, Candidate{Row: row, Col: col, Index: i, Height: h})
			}
		}
	}
	return out
}

func isPeak(csm *raster.Raster[float32], row, col int, h float32) bool {
	for _, s := range forward {
		if v, ok := csm.Get(row+s.drow, col+s.dcol); ok && v > h {
			return false
		}
	}
	for _, s := range backward {
		if v, ok := csm.Get(row+s.drow, col+s.dcol); ok && v >= h {
			return false
		}
	}
	return true
}

// suppress scans candidates from highest to lowest, ties by ascending cell
// index, and drops any candidate inside the exclusion footprint of one
// already accepted.
func (d Detector) suppress(a raster.Alignment, cands []Candidate) []Candidate {
	order := make([]Candidate, len(cands))
	copy(order, cands)
	sort.Slice(order, func(i, j int) bool {
		if order[i].Height != order[j].Height {
			return order[i].Height > order[j].Height
		}
		return order[i].Index < order[j].Index
	})

	fp := exclusionFootprint(d.MinSeparation / a.CellSize)
	excluded := make([]bool, a.Cells())
	accepted := make([]Candidate, 0, len(order))
	for _, c := range order {
		if excluded[c.Index] {
			continue
		}
		accepted = append(accepted, c)
		for _, o := range fp {
			r, col := c.Row+o.drow, c.Col+o.dcol
			if a.InBounds(r, col) {
				excluded[a.Index(r, col)] = true
			}
		}
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Index < accepted[j].Index })
	return accepted
}

// exclusionFootprint lists every cell offset within radius cells of the
// origin, the origin included.
func exclusionFootprint(radius float64) []step {
	n := int(math.Floor(radius))
	r2 := radius * radius
	var out []step
	for dr := -n; dr <= n; dr++ {
		for dc := -n; dc <= n; dc++ {
			if float64(dr*dr+dc*dc) <= r2 {
				out = append(out, step{dcol: dc, drow: dr})
			}
		}
	}
	return out
}
