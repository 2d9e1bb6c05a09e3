package raster

import (
	"fmt"
	"math"
)

// latticeEps absorbs floating-point noise when snapping coordinates onto a
// cell lattice.
const latticeEps = 1e-9

// Extent is an axis-aligned bounding box in map units.
type Extent struct {
	XMin, YMin, XMax, YMax float64
}

// EmptyExtent returns an inverted extent that any Include call replaces.
func EmptyExtent() Extent {
	return Extent{
		XMin: math.Inf(1), YMin: math.Inf(1),
		XMax: math.Inf(-1), YMax: math.Inf(-1),
	}
}

// IsEmpty reports whether the extent encloses no area.
func (e Extent) IsEmpty() bool { return !(e.XMax > e.XMin) || !(e.YMax > e.YMin) }

// Width returns XMax-XMin.
func (e Extent) Width() float64 { return e.XMax - e.XMin }

// Height returns YMax-YMin.
func (e Extent) Height() float64 { return e.YMax - e.YMin }

// Include grows the extent to contain (x, y).
func (e Extent) Include(x, y float64) Extent {
	e.XMin = math.Min(e.XMin, x)
	e.YMin = math.Min(e.YMin, y)
	e.XMax = math.Max(e.XMax, x)
	e.YMax = math.Max(e.YMax, y)
	return e
}

// Union returns the smallest extent containing both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		XMin: math.Min(e.XMin, o.XMin), YMin: math.Min(e.YMin, o.YMin),
		XMax: math.Max(e.XMax, o.XMax), YMax: math.Max(e.YMax, o.YMax),
	}
}

// Intersect returns the overlap of e and o (possibly empty).
func (e Extent) Intersect(o Extent) Extent {
	return Extent{
		XMin: math.Max(e.XMin, o.XMin), YMin: math.Max(e.YMin, o.YMin),
		XMax: math.Min(e.XMax, o.XMax), YMax: math.Min(e.YMax, o.YMax),
	}
}

// Overlaps reports whether the two extents share a region of positive area.
func (e Extent) Overlaps(o Extent) bool {
	return e.XMin < o.XMax && o.XMin < e.XMax && e.YMin < o.YMax && o.YMin < e.YMax
}

// Contains reports whether (x, y) lies inside the half-open extent
// [XMin, XMax) x (YMin, YMax].
func (e Extent) Contains(x, y float64) bool {
	return x >= e.XMin && x < e.XMax && y > e.YMin && y <= e.YMax
}

// Expand grows the extent by d on every side.
func (e Extent) Expand(d float64) Extent {
	return Extent{XMin: e.XMin - d, YMin: e.YMin - d, XMax: e.XMax + d, YMax: e.YMax + d}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%.3f,%.3f]-[%.3f,%.3f]", e.XMin, e.YMin, e.XMax, e.YMax)
}

// Alignment is the geometric contract shared by rasters that take part in
// pointwise operations. The origin is the top-left corner (x min, y max);
// row 0 is the northernmost row and cell index = row*Cols + col.
type Alignment struct {
	OriginX  float64
	OriginY  float64
	CellSize float64
	Rows     int
	Cols     int
	CRS      string
}

// NewAlignment builds the smallest alignment on the lattice anchored at
// (anchorX, anchorY) with the given cell size that covers ext.
func NewAlignment(ext Extent, cellSize, anchorX, anchorY float64, crs string) Alignment {
	x0 := anchorX + math.Floor((ext.XMin-anchorX)/cellSize+latticeEps)*cellSize
	x1 := anchorX + math.Ceil((ext.XMax-anchorX)/cellSize-latticeEps)*cellSize
	y0 := anchorY + math.Floor((ext.YMin-anchorY)/cellSize+latticeEps)*cellSize
	y1 := anchorY + math.Ceil((ext.YMax-anchorY)/cellSize-latticeEps)*cellSize
	cols := int(math.Round((x1 - x0) / cellSize))
	rows := int(math.Round((y1 - y0) / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return Alignment{OriginX: x0, OriginY: y1, CellSize: cellSize, Rows: rows, Cols: cols, CRS: crs}
}

// Extent returns the area covered by the alignment.
func (a Alignment) Extent() Extent {
	return Extent{
		XMin: a.OriginX,
		YMin: a.OriginY - float64(a.Rows)*a.CellSize,
		XMax: a.OriginX + float64(a.Cols)*a.CellSize,
		YMax: a.OriginY,
	}
}

// Cells returns Rows*Cols.
func (a Alignment) Cells() int { return a.Rows * a.Cols }

// CellArea returns the area of one cell in squared map units.
func (a Alignment) CellArea() float64 { return a.CellSize * a.CellSize }

// Index returns the flat cell index of (row, col).
func (a Alignment) Index(row, col int) int { return row*a.Cols + col }

// InBounds reports whether (row, col) addresses a cell of the alignment.
func (a Alignment) InBounds(row, col int) bool {
	return row >= 0 && row < a.Rows && col >= 0 && col < a.Cols
}

// CellOf returns the cell containing (x, y).
func (a Alignment) CellOf(x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - a.OriginX) / a.CellSize))
	row = int(math.Floor((a.OriginY - y) / a.CellSize))
	return row, col, a.InBounds(row, col)
}

// CellCenter returns the map coordinate of the centre of (row, col).
func (a Alignment) CellCenter(row, col int) (x, y float64) {
	return a.OriginX + (float64(col)+0.5)*a.CellSize, a.OriginY - (float64(row)+0.5)*a.CellSize
}

// Same reports whether two alignments are identical, the precondition for
// any pointwise operation.
func (a Alignment) Same(b Alignment) bool { return a == b }

// Buffer returns the alignment grown by n cells on every side.
func (a Alignment) Buffer(n int) Alignment {
	b := a
	b.OriginX -= float64(n) * a.CellSize
	b.OriginY += float64(n) * a.CellSize
	b.Rows += 2 * n
	b.Cols += 2 * n
	return b
}

// Offset returns the position of b's origin cell within a's lattice.
// ok is false when the cell sizes or CRS differ or when b's origin does
// not fall on a's lattice.
func (a Alignment) Offset(b Alignment) (dRow, dCol int, ok bool) {
	if a.CellSize != b.CellSize || a.CRS != b.CRS {
		return 0, 0, false
	}
	fc := (b.OriginX - a.OriginX) / a.CellSize
	fr := (a.OriginY - b.OriginY) / a.CellSize
	dCol = int(math.Round(fc))
	dRow = int(math.Round(fr))
	if math.Abs(fc-float64(dCol)) > 1e-6 || math.Abs(fr-float64(dRow)) > 1e-6 {
		return 0, 0, false
	}
	return dRow, dCol, true
}

// Snap returns the alignment on a's lattice that covers ext.
func (a Alignment) Snap(ext Extent) Alignment {
	return NewAlignment(ext, a.CellSize, a.OriginX, a.OriginY, a.CRS)
}

func (a Alignment) String() string {
	return fmt.Sprintf("%dx%d@%.3f origin=(%.3f,%.3f) crs=%q", a.Rows, a.Cols, a.CellSize, a.OriginX, a.OriginY, a.CRS)
}
