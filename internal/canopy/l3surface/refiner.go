package l3surface

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Refiner names accepted by NewRefiner.
const (
	RefinerNone          = "none"
	RefinerSmooth        = "smooth"
	RefinerFill          = "fill"
	RefinerSmoothAndFill = "smooth_fill"
)

// Refiner maps a surface raster to a new raster of the same alignment.
type Refiner interface {
	Name() string
	Refine(in *raster.Raster[float32]) *raster.Raster[float32]
}

// RefinerParams carries the parameters of every refinement pass.
type RefinerParams struct {
	Window          int     // smoothing window in cells
	NeighborsNeeded int     // directions (of 8) that must hit for a fill
	SearchDistance  float64 // fill search distance in cells
}

// NewRefiner selects a refinement pass by name.
func NewRefiner(name string, p RefinerParams) (Refiner, error) {
	switch name {
	case "", RefinerNone:
		return Identity{}, nil
	case RefinerSmooth:
		s := Smooth{Window: p.Window}
		if err := s.validate(); err != nil {
			return nil, err
		}
		return s, nil
	case RefinerFill:
		f := Fill{NeighborsNeeded: p.NeighborsNeeded, SearchDistance: p.SearchDistance}
		if err := f.validate(); err != nil {
			return nil, err
		}
		return f, nil
	case RefinerSmoothAndFill:
		sf := SmoothAndFill{
			Smooth: Smooth{Window: p.Window},
			Fill:   Fill{NeighborsNeeded: p.NeighborsNeeded, SearchDistance: p.SearchDistance},
		}
		if err := sf.Smooth.validate(); err != nil {
			return nil, err
		}
		if err := sf.Fill.validate(); err != nil {
			return nil, err
		}
		return sf, nil
	}
	return nil, fmt.Errorf("unknown refiner %q: %w", name, raster.ErrConfiguration)
}

// Identity returns its input unchanged.
type Identity struct{}

func (Identity) Name() string { return RefinerNone }

func (Identity) Refine(in *raster.Raster[float32]) *raster.Raster[float32] { return in }

// Smooth replaces every valued cell with the mean of the valued cells in
// its (2*(Window/2)+1)^2 neighbourhood.
type Smooth struct {
	Window int
}

func (s Smooth) Name() string { return RefinerSmooth }

func (s Smooth) validate() error {
	if s.Window <= 0 {
		return fmt.Errorf("smoothing window must be positive, got %d: %w", s.Window, raster.ErrConfiguration)
	}
	return nil
}

func (s Smooth) Refine(in *raster.Raster[float32]) *raster.Raster[float32] {
	out := raster.New[float32](in.Alignment)
	look := s.Window / 2
	for row := 0; row < in.Rows; row++ {
		for col := 0; col < in.Cols; col++ {
			if !in.Valid[in.Index(row, col)] {
				continue
			}
			if v, ok := neighbourhoodMean(in, row, col, look); ok {
				out.Set(row, col, v)
			}
		}
	}
	return out
}

// neighbourhoodMean averages the valued cells within look cells of
// (row, col). Absent cells count in neither sum nor count.
func neighbourhoodMean(in *raster.Raster[float32], row, col, look int) (float32, bool) {
	var sum float64
	n := 0
	for r := row - look; r <= row+look; r++ {
		for c := col - look; c <= col+look; c++ {
			if v, ok := in.Get(r, c); ok {
				sum += float64(v)
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return float32(sum / float64(n)), true
}

// Fill assigns unvalued cells the inverse-distance-weighted mean of the
// nearest valued cell found along each of the eight compass directions.
type Fill struct {
	NeighborsNeeded int
	SearchDistance  float64
}

func (f Fill) Name() string { return RefinerFill }

func (f Fill) validate() error {
	if !(f.SearchDistance > 0) {
		return fmt.Errorf("fill search distance must be positive, got %v: %w", f.SearchDistance, raster.ErrConfiguration)
	}
	if f.NeighborsNeeded < 0 || f.NeighborsNeeded > 8 {
		return fmt.Errorf("fill neighbours needed must be in [0, 8], got %d: %w", f.NeighborsNeeded, raster.ErrConfiguration)
	}
	return nil
}

func (f Fill) Refine(in *raster.Raster[float32]) *raster.Raster[float32] {
	out := in.Clone()
	for row := 0; row < in.Rows; row++ {
		for col := 0; col < in.Cols; col++ {
			if in.Valid[in.Index(row, col)] {
				continue
			}
			if v, ok := f.directionalFill(in, row, col); ok {
				out.Set(row, col, v)
			}
		}
	}
	return out
}

var compass = [8][2]int{
	{-1, 0}, {-1, 1}, {0, 1}, {1, 1},
	{1, 0}, {1, -1}, {0, -1}, {-1, -1},
}

// directionalFill probes the eight compass directions from (row, col). A
// direction hits when it reaches a valued cell or the raster edge within
// SearchDistance; the edge contributes no value. Too many misses, or no
// contributing direction, leaves the cell unset.
func (f Fill) directionalFill(in *raster.Raster[float32], row, col int) (float32, bool) {
	allowedMisses := 8 - f.NeighborsNeeded
	misses := 0
	values := make([]float64, 0, 8)
	weights := make([]float64, 0, 8)
	for _, d := range compass {
		step := 1.0
		if d[0] != 0 && d[1] != 0 {
			step = math.Sqrt2
		}
		hit := false
		for s := 1; float64(s)*step <= f.SearchDistance; s++ {
			r, c := row+s*d[0], col+s*d[1]
			if !in.InBounds(r, c) {
				hit = true
				break
			}
			if v, ok := in.Get(r, c); ok {
				hit = true
				values = append(values, float64(v))
				weights = append(weights, 1/(float64(s)*step))
				break
			}
		}
		if !hit {
			misses++
			if misses > allowedMisses {
				return 0, false
			}
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	return float32(floats.Dot(values, weights) / floats.Sum(weights)), true
}

// SmoothAndFill smooths valued cells and fills unvalued ones in a single
// pass over the input.
type SmoothAndFill struct {
	Smooth
	Fill
}

func (sf SmoothAndFill) Name() string { return RefinerSmoothAndFill }

func (sf SmoothAndFill) Refine(in *raster.Raster[float32]) *raster.Raster[float32] {
	out := raster.New[float32](in.Alignment)
	look := sf.Window / 2
	for row := 0; row < in.Rows; row++ {
		for col := 0; col < in.Cols; col++ {
			var v float32
			var ok bool
			if in.Valid[in.Index(row, col)] {
				v, ok = neighbourhoodMean(in, row, col, look)
			} else {
				v, ok = sf.directionalFill(in, row, col)
			}
			if ok {
				out.Set(row, col, v)
			}
		}
	}
	return out
}
