package tiling

import (
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Layout is a grid of square tiles over an area of interest. Tile index is
// row*Cols + col with row 0 at the north edge.
type Layout struct {
	Extent   raster.Extent
	TileSize float64
	Buffer   float64
	Rows     int
	Cols     int
}

// NewLayout tiles ext with tiles of the given size anchored at ext's
// north-west corner. Each tile is read with buffer map units of context.
func NewLayout(ext raster.Extent, tileSize, buffer float64) (*Layout, error) {
	if !(tileSize > 0) {
		return nil, fmt.Errorf("tile size must be positive, got %v: %w", tileSize, raster.ErrConfiguration)
	}
	if buffer < 0 {
		return nil, fmt.Errorf("tile buffer must not be negative, got %v: %w", buffer, raster.ErrConfiguration)
	}
	if ext.IsEmpty() {
		return nil, fmt.Errorf("empty area of interest %v: %w", ext, raster.ErrData)
	}
	return &Layout{
		Extent:   ext,
		TileSize: tileSize,
		Buffer:   buffer,
		Rows:     int(math.Max(1, math.Ceil(ext.Height()/tileSize-1e-9))),
		Cols:     int(math.Max(1, math.Ceil(ext.Width()/tileSize-1e-9))),
	}, nil
}

// Count returns the number of tiles.
func (l *Layout) Count() int { return l.Rows * l.Cols }

// TileExtent returns the core extent of tile i.
func (l *Layout) TileExtent(i int) raster.Extent {
	row, col := i/l.Cols, i%l.Cols
	x0 := l.Extent.XMin + float64(col)*l.TileSize
	y1 := l.Extent.YMax - float64(row)*l.TileSize
	return raster.Extent{XMin: x0, YMin: y1 - l.TileSize, XMax: x0 + l.TileSize, YMax: y1}
}

// BufferedExtent returns tile i's core extent grown by the buffer.
func (l *Layout) BufferedExtent(i int) raster.Extent {
	return l.TileExtent(i).Expand(l.Buffer)
}

// TilesOverlapping returns, in ascending order, the tiles whose buffered
// extent overlaps ext.
func (l *Layout) TilesOverlapping(ext raster.Extent) []int {
	var out []int
	for i := 0; i < l.Count(); i++ {
		if l.BufferedExtent(i).Overlaps(ext) {
			out = append(out, i)
		}
	}
	return out
}

// BufferFor returns the tile buffer: the larger of the coarsest metric
// cell and the fixed margin.
func BufferFor(margin float64, cellSizes ...float64) float64 {
	b := margin
	for _, c := range cellSizes {
		b = math.Max(b, c)
	}
	return b
}
