package l2ground

import (
	"fmt"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Transformer reprojects coordinates between coordinate reference systems.
// Real projections are supplied by an external collaborator.
type Transformer interface {
	Transform(fromCRS, toCRS string, x, y float64) (float64, float64, error)
}

// IdentityTransformer passes coordinates through unchanged. It accepts an
// empty CRS on either side as "same as the other" and rejects any other
// mismatch.
type IdentityTransformer struct{}

// Transform implements Transformer.
func (IdentityTransformer) Transform(fromCRS, toCRS string, x, y float64) (float64, float64, error) {
	if fromCRS != toCRS && fromCRS != "" && toCRS != "" {
		return 0, 0, fmt.Errorf("no projection from %q to %q: %w", fromCRS, toCRS, raster.ErrConfiguration)
	}
	return x, y, nil
}

// transformExtent reprojects the four corners of ext and returns their
// bounding box.
func transformExtent(tr Transformer, from, to string, ext raster.Extent) (raster.Extent, error) {
	out := raster.EmptyExtent()
	corners := [4][2]float64{
		{ext.XMin, ext.YMin}, {ext.XMin, ext.YMax},
		{ext.XMax, ext.YMin}, {ext.XMax, ext.YMax},
	}
	for _, c := range corners {
		x, y, err := tr.Transform(from, to, c[0], c[1])
		if err != nil {
			return raster.Extent{}, err
		}
		out = out.Include(x, y)
	}
	return out, nil
}
