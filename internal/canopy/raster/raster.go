package raster

import (
	"fmt"
	"math"
)

// Number is the set of cell value types a Raster can hold.
type Number interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Raster is a row/col addressable grid of optionally-valued cells.
// len(Values) == len(Valid) == Rows*Cols.
type Raster[T Number] struct {
	Alignment
	Values []T
	Valid  []bool
}

// New allocates a raster with every cell absent.
func New[T Number](a Alignment) *Raster[T] {
	n := a.Cells()
	return &Raster[T]{Alignment: a, Values: make([]T, n), Valid: make([]bool, n)}
}

// Get returns the value of (row, col) and whether it is set.
// Out-of-bounds cells are reported absent.
func (r *Raster[T]) Get(row, col int) (T, bool) {
	if !r.InBounds(row, col) {
		var zero T
		return zero, false
	}
	i := r.Index(row, col)
	return r.Values[i], r.Valid[i]
}

// Set assigns v to (row, col) and marks it valued.
func (r *Raster[T]) Set(row, col int, v T) {
	i := r.Index(row, col)
	r.Values[i] = v
	r.Valid[i] = true
}

// Unset marks (row, col) absent.
func (r *Raster[T]) Unset(row, col int) {
	i := r.Index(row, col)
	var zero T
	r.Values[i] = zero
	r.Valid[i] = false
}

// At returns the value of the cell containing (x, y).
func (r *Raster[T]) At(x, y float64) (T, bool) {
	row, col, ok := r.CellOf(x, y)
	if !ok {
		var zero T
		return zero, false
	}
	return r.Get(row, col)
}

// Fill assigns v to every cell with the given validity.
func (r *Raster[T]) Fill(v T, valid bool) {
	for i := range r.Values {
		r.Values[i] = v
		r.Valid[i] = valid
	}
}

// CountValid returns the number of valued cells.
func (r *Raster[T]) CountValid() int {
	n := 0
	for _, ok := range r.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (r *Raster[T]) Clone() *Raster[T] {
	c := &Raster[T]{Alignment: r.Alignment, Values: make([]T, len(r.Values)), Valid: make([]bool, len(r.Valid))}
	copy(c.Values, r.Values)
	copy(c.Valid, r.Valid)
	return c
}

// Window copies r onto alignment a, which must share r's lattice. Cells of
// a outside r are absent.
func (r *Raster[T]) Window(a Alignment) (*Raster[T], error) {
	dRow, dCol, ok := r.Offset(a)
	if !ok {
		return nil, fmt.Errorf("window %s from %s: %w", a, r.Alignment, ErrAlignment)
	}
	out := New[T](a)
	for row := 0; row < a.Rows; row++ {
		sr := row + dRow
		if sr < 0 || sr >= r.Rows {
			continue
		}
		for col := 0; col < a.Cols; col++ {
			sc := col + dCol
			if sc < 0 || sc >= r.Cols {
				continue
			}
			si := r.Index(sr, sc)
			if r.Valid[si] {
				di := a.Index(row, col)
				out.Values[di] = r.Values[si]
				out.Valid[di] = true
			}
		}
	}
	return out, nil
}

// Fold merges every valued cell of src into dst with combine. Cells that
// are absent in dst take src's value directly. dst and src must share a
// lattice; src may extend beyond dst.
func Fold[T Number](dst, src *Raster[T], combine func(a, b T) T) error {
	dRow, dCol, ok := dst.Offset(src.Alignment)
	if !ok {
		return fmt.Errorf("fold %s into %s: %w", src.Alignment, dst.Alignment, ErrAlignment)
	}
	for row := 0; row < src.Rows; row++ {
		dr := row + dRow
		if dr < 0 || dr >= dst.Rows {
			continue
		}
		for col := 0; col < src.Cols; col++ {
			dc := col + dCol
			if dc < 0 || dc >= dst.Cols {
				continue
			}
			si := src.Index(row, col)
			if !src.Valid[si] {
				continue
			}
			di := dst.Index(dr, dc)
			if dst.Valid[di] {
				dst.Values[di] = combine(dst.Values[di], src.Values[si])
			} else {
				dst.Values[di] = src.Values[si]
				dst.Valid[di] = true
			}
		}
	}
	return nil
}

// Max is the reducer for surface products.
func Max[T Number](a, b T) T {
	if b > a {
		return b
	}
	return a
}

// Sum is the reducer for count products.
func Sum[T Number](a, b T) T { return a + b }

// Bilinear samples r at (x, y) from the 2x2 stencil of surrounding cell
// centres. The cell containing (x, y) must be valued; absent stencil cells
// are dropped and the remaining weights renormalised.
func Bilinear[T Number](r *Raster[T], x, y float64) (float64, bool) {
	if _, ok := r.At(x, y); !ok {
		return 0, false
	}
	fc := (x-r.OriginX)/r.CellSize - 0.5
	fr := (r.OriginY-y)/r.CellSize - 0.5
	c0 := int(math.Floor(fc))
	r0 := int(math.Floor(fr))
	tc := fc - float64(c0)
	tr := fr - float64(r0)

	var sum, wsum float64
	for dr := 0; dr <= 1; dr++ {
		wr := 1 - tr
		if dr == 1 {
			wr = tr
		}
		for dc := 0; dc <= 1; dc++ {
			wc := 1 - tc
			if dc == 1 {
				wc = tc
			}
			w := wr * wc
			if w == 0 {
				continue
			}
			v, ok := r.Get(clamp(r0+dr, 0, r.Rows-1), clamp(c0+dc, 0, r.Cols-1))
			if !ok {
				continue
			}
			sum += w * float64(v)
			wsum += w
		}
	}
	if wsum == 0 {
		// Sample point sits exactly on the centre of the containing cell.
		v, _ := r.At(x, y)
		return float64(v), true
	}
	return sum / wsum, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
