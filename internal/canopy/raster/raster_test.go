package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewAlignment_SnapsToLattice(t *testing.T) {
	a := NewAlignment(Extent{XMin: 0.3, YMin: 0.2, XMax: 4.1, YMax: 2.9}, 1, 0, 0, "")
	if a.OriginX != 0 || a.OriginY != 3 {
		t.Fatalf("origin = (%v,%v), want (0,3)", a.OriginX, a.OriginY)
	}
	if a.Cols != 5 || a.Rows != 3 {
		t.Fatalf("dims = %dx%d, want 3x5", a.Rows, a.Cols)
	}
	ext := a.Extent()
	want := Extent{XMin: 0, YMin: 0, XMax: 5, YMax: 3}
	if ext != want {
		t.Errorf("extent = %v, want %v", ext, want)
	}
}

func TestAlignment_CellOfAndCenter(t *testing.T) {
	a := Alignment{OriginX: 10, OriginY: 20, CellSize: 2, Rows: 5, Cols: 5}
	row, col, ok := a.CellOf(11, 19)
	if !ok || row != 0 || col != 0 {
		t.Fatalf("CellOf(11,19) = %d,%d,%v", row, col, ok)
	}
	x, y := a.CellCenter(2, 3)
	if x != 17 || y != 15 {
		t.Errorf("CellCenter(2,3) = %v,%v want 17,15", x, y)
	}
	if _, _, ok := a.CellOf(9.9, 19); ok {
		t.Errorf("expected point west of origin to be out of bounds")
	}
}

func TestAlignment_Offset(t *testing.T) {
	a := Alignment{OriginX: 0, OriginY: 10, CellSize: 1, Rows: 10, Cols: 10}
	b := Alignment{OriginX: 3, OriginY: 8, CellSize: 1, Rows: 2, Cols: 2}
	dr, dc, ok := a.Offset(b)
	if !ok || dr != 2 || dc != 3 {
		t.Fatalf("Offset = %d,%d,%v want 2,3,true", dr, dc, ok)
	}
	c := b
	c.OriginX = 3.5
	if _, _, ok := a.Offset(c); ok {
		t.Errorf("expected off-lattice origin to be rejected")
	}
	d := b
	d.CellSize = 2
	if _, _, ok := a.Offset(d); ok {
		t.Errorf("expected different cell size to be rejected")
	}
}

func TestBuffer_PreservesLattice(t *testing.T) {
	a := Alignment{OriginX: 0, OriginY: 10, CellSize: 1, Rows: 10, Cols: 10}
	b := a.Buffer(2)
	if b.Rows != 14 || b.Cols != 14 || b.OriginX != -2 || b.OriginY != 12 {
		t.Fatalf("unexpected buffered alignment %s", b)
	}
	dr, dc, ok := b.Offset(a)
	if !ok || dr != 2 || dc != 2 {
		t.Errorf("Offset = %d,%d,%v", dr, dc, ok)
	}
}

func TestFold_MaxAndWindow(t *testing.T) {
	base := Alignment{OriginX: 0, OriginY: 4, CellSize: 1, Rows: 4, Cols: 4}
	dst := New[float32](base)
	dst.Set(1, 1, 5)

	src := New[float32](Alignment{OriginX: 1, OriginY: 3, CellSize: 1, Rows: 2, Cols: 2})
	src.Set(0, 0, 7) // lands on dst (1,1)
	src.Set(1, 1, 2) // lands on dst (2,2)
	if err := Fold(dst, src, Max[float32]); err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if v, _ := dst.Get(1, 1); v != 7 {
		t.Errorf("dst(1,1) = %v, want 7", v)
	}
	if v, ok := dst.Get(2, 2); !ok || v != 2 {
		t.Errorf("dst(2,2) = %v,%v want 2,true", v, ok)
	}

	w, err := dst.Window(Alignment{OriginX: 1, OriginY: 3, CellSize: 1, Rows: 2, Cols: 2})
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	want := []float32{7, 0, 0, 2}
	if diff := cmp.Diff(want, w.Values); diff != "" {
		t.Errorf("window values mismatch (-want +got):\n%s", diff)
	}

	off := New[float32](Alignment{OriginX: 0.5, OriginY: 3, CellSize: 1, Rows: 1, Cols: 1})
	if err := Fold(dst, off, Max[float32]); !errors.Is(err, ErrAlignment) {
		t.Errorf("expected ErrAlignment, got %v", err)
	}
}

func TestBilinear(t *testing.T) {
	r := New[float32](Alignment{OriginX: 0, OriginY: 2, CellSize: 1, Rows: 2, Cols: 2})
	r.Set(0, 0, 0)
	r.Set(0, 1, 2)
	r.Set(1, 0, 0)
	r.Set(1, 1, 2)

	// Midway between the two columns of centres.
	v, ok := Bilinear(r, 1.0, 1.0)
	if !ok || math.Abs(v-1) > 1e-9 {
		t.Errorf("Bilinear(1,1) = %v,%v want 1,true", v, ok)
	}
	// On a cell centre.
	v, ok = Bilinear(r, 1.5, 1.5)
	if !ok || v != 2 {
		t.Errorf("Bilinear(1.5,1.5) = %v,%v want 2,true", v, ok)
	}
	// Outside.
	if _, ok := Bilinear(r, 3, 3); ok {
		t.Errorf("expected no sample outside raster")
	}
	// Containing cell absent.
	r.Unset(1, 0)
	if _, ok := Bilinear(r, 0.5, 0.5); ok {
		t.Errorf("expected no sample for absent containing cell")
	}
	// Absent neighbour is dropped from the stencil.
	v, ok = Bilinear(r, 1.2, 0.5)
	if !ok || v != 2 {
		t.Errorf("Bilinear(1.2,0.5) = %v,%v want 2,true", v, ok)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	r := New[int64](Alignment{OriginX: 5, OriginY: 5, CellSize: 0.5, Rows: 3, Cols: 2, CRS: "EPSG:32610"})
	r.Set(2, 1, 42)
	blob, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode[int64](blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, err := Decode[int64](nil); !errors.Is(err, ErrData) {
		t.Errorf("expected ErrData for empty blob, got %v", err)
	}
}
