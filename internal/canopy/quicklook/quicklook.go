// Package quicklook renders rasters as PNG heat maps for visual checks of
// tile products.
package quicklook

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Grid adapts a raster to plotter.GridXYZ. Column/row indices run west to
// east and south to north; absent cells read as NaN.
type Grid[T raster.Number] struct {
	R *raster.Raster[T]
}

func (g Grid[T]) Dims() (c, r int) { return g.R.Cols, g.R.Rows }

func (g Grid[T]) Z(c, r int) float64 {
	v, ok := g.R.Get(g.R.Rows-1-r, c)
	if !ok {
		return math.NaN()
	}
	return float64(v)
}

func (g Grid[T]) X(c int) float64 {
	x, _ := g.R.CellCenter(0, c)
	return x
}

func (g Grid[T]) Y(r int) float64 {
	_, y := g.R.CellCenter(g.R.Rows-1-r, 0)
	return y
}

// Size is the rendered image edge length.
var Size = 6 * vg.Inch

// Render writes a PNG heat map of r to w.
func Render[T raster.Number](w io.Writer, r *raster.Raster[T], title string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	pal := moreland.SmoothBlueRed().Palette(64)
	hm := plotter.NewHeatMap(Grid[T]{R: r}, pal)
	hm.NaN = color.Transparent
	hm.Rasterized = true
	if math.IsInf(hm.Min, 0) || math.IsInf(hm.Max, 0) {
		hm.Min, hm.Max = 0, 1
	}
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	wt, err := p.WriterTo(Size, Size, "png")
	if err != nil {
		return fmt.Errorf("failed to create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}
