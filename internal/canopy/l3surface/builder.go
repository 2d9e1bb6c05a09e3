package l3surface

import (
	"math"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// BelowMinimum is the initial value of every working cell. Cells still at
// this value after all points are folded in have no value.
const BelowMinimum = -math.MaxFloat32

// FootprintEpsilon is the height penalty per offset order applied to the
// eight non-centre footprint samples, so the unperturbed return wins ties
// in later detection.
const FootprintEpsilon = 1e-4

// footprintOffset is a sample offset in map units with its order (0 for
// the centre).
type footprintOffset struct {
	dx, dy float64
	order  int
}

// Builder rasterises points into a canopy surface model. A Builder is
// owned by one worker for its lifetime.
type Builder struct {
	work    *raster.Raster[float32]
	offsets []footprintOffset
	points  int
}

// Begin allocates a working raster over a, buffered by enough cells to
// hold the footprint, with every cell at BelowMinimum.
func Begin(a raster.Alignment, footprintRadius float64) *Builder {
	pad := 0
	if footprintRadius > 0 {
		pad = int(math.Ceil(footprintRadius / a.CellSize))
	}
	work := raster.New[float32](a.Buffer(pad))
	for i := range work.Values {
		work.Values[i] = BelowMinimum
	}
	return &Builder{work: work, offsets: footprintOffsets(footprintRadius)}
}

// footprintOffsets returns the centre, four cardinal offsets at r and four
// diagonal offsets at r/sqrt(2). Radius 0 yields the centre only.
func footprintOffsets(r float64) []footprintOffset {
	offs := []footprintOffset{{0, 0, 0}}
	if r <= 0 {
		return offs
	}
	d := r / math.Sqrt2
	for i, o := range [][2]float64{
		{r, 0}, {-r, 0}, {0, r}, {0, -r},
		{d, d}, {-d, d}, {d, -d}, {-d, -d},
	} {
		offs = append(offs, footprintOffset{o[0], o[1], i + 1})
	}
	return offs
}

// AddPoints folds each point's footprint samples into the working raster
// with max. Samples falling outside the buffered raster are ignored.
func (b *Builder) AddPoints(pts []l1points.Point) {
	w := b.work
	for _, p := range pts {
		for _, o := range b.offsets {
			row, col, ok := w.CellOf(p.X+o.dx, p.Y+o.dy)
			if !ok {
				continue
			}
			h := float32(p.Z - float64(o.order)*FootprintEpsilon)
			i := w.Index(row, col)
			if h > w.Values[i] {
				w.Values[i] = h
			}
		}
	}
	b.points += len(pts)
}

// Points returns the number of points added so far.
func (b *Builder) Points() int { return b.points }

// Finalize marks every cell above BelowMinimum as valued and returns the
// buffered raster. Unvalued cells are reset to zero.
func (b *Builder) Finalize() *raster.Raster[float32] {
	w := b.work
	for i, v := range w.Values {
		if v > BelowMinimum {
			w.Valid[i] = true
		} else {
			w.Values[i] = 0
		}
	}
	return w
}

// CombineTiles is the reducer used when overlapping per-file surface
// products are merged.
func CombineTiles(a, b float32) float32 { return raster.Max(a, b) }

// Fold max-folds src into dst. Both must share a lattice.
func Fold(dst, src *raster.Raster[float32]) error {
	return raster.Fold(dst, src, CombineTiles)
}
