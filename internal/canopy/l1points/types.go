package l1points

import (
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Point is a single lidar return. Z is the raw elevation until the ground
// compositor rewrites it as height above ground.
type Point struct {
	X, Y, Z         float64
	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	Classification  uint8
}

// Header describes a point-cloud file without reading its records.
type Header struct {
	Path   string
	Extent raster.Extent
	CRS    string
	Count  int64
}

// Reader streams points from one file in batches.
type Reader interface {
	Header() Header
	// ReadBatch returns up to max points. It returns io.EOF once the file
	// is exhausted; a final short batch is returned with a nil error.
	ReadBatch(max int) ([]Point, error)
	Close() error
}

// Source opens point-cloud files. Implementations wrap decoding errors with
// raster.ErrData so the pipeline can skip the file.
type Source interface {
	Open(path string) (Reader, error)
}

// Filter is a predicate applied to each point before processing.
type Filter func(p Point) bool

// All combines filters; a point must pass every one. A nil Filter passes.
func All(filters ...Filter) Filter {
	return func(p Point) bool {
		for _, f := range filters {
			if f != nil && !f(p) {
				return false
			}
		}
		return true
	}
}

// ExcludeClasses drops points whose classification is listed
// (e.g. 7 low noise, 18 high noise).
func ExcludeClasses(classes ...uint8) Filter {
	set := make(map[uint8]struct{}, len(classes))
	for _, c := range classes {
		set[c] = struct{}{}
	}
	return func(p Point) bool {
		_, skip := set[p.Classification]
		return !skip
	}
}

// FirstReturnsOnly keeps returns with ReturnNumber <= 1.
func FirstReturnsOnly() Filter {
	return func(p Point) bool { return p.ReturnNumber <= 1 }
}

// MinIntensity keeps points at or above the given intensity.
func MinIntensity(v uint16) Filter {
	return func(p Point) bool { return p.Intensity >= v }
}

// Apply compacts pts in place, keeping points that pass f.
func Apply(pts []Point, f Filter) []Point {
	if f == nil {
		return pts
	}
	w := 0
	for _, p := range pts {
		if f(p) {
			pts[w] = p
			w++
		}
	}
	return pts[:w]
}

// ExtentOf returns the bounding box of pts.
func ExtentOf(pts []Point) raster.Extent {
	ext := raster.EmptyExtent()
	for _, p := range pts {
		ext = ext.Include(p.X, p.Y)
	}
	return ext
}
