package l2ground

import (
	"fmt"
	"sort"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Model is a registered bare-earth elevation raster.
type Model struct {
	Name   string
	Raster *raster.Raster[float32]
}

// Compositor merges registered ground models over a query extent and
// normalises point elevations against the composite. Models are registered
// before a run starts; afterwards the compositor is read-only and safe for
// concurrent use.
type Compositor struct {
	models    []Model
	tr        Transformer
	minHeight float64
	maxHeight float64
}

// NewCompositor returns a compositor that keeps normalised heights within
// [minHeight, maxHeight]. A nil transformer means IdentityTransformer.
func NewCompositor(tr Transformer, minHeight, maxHeight float64) *Compositor {
	if tr == nil {
		tr = IdentityTransformer{}
	}
	return &Compositor{tr: tr, minHeight: minHeight, maxHeight: maxHeight}
}

// Register adds a ground model. Registration order breaks ties between
// models of equal resolution.
func (c *Compositor) Register(name string, r *raster.Raster[float32]) {
	c.models = append(c.models, Model{Name: name, Raster: r})
}

// Models returns the number of registered ground models.
func (c *Compositor) Models() int { return len(c.models) }

// contributor is a model reprojected into the query CRS.
type contributor struct {
	model    Model
	order    int
	extent   raster.Extent
	cellSize float64
	originX  float64
	originY  float64
}

// Composite builds a ground raster covering ext in crs, aligned to the
// finest overlapping model. Overlapping models are overlaid first-write-
// wins in ascending cell area. ext is treated as closed: the raster
// extends one cell past every edge so points on XMax or YMin have a
// containing cell and bilinear sampling has real neighbours.
func (c *Compositor) Composite(ext raster.Extent, crs string) (*raster.Raster[float32], error) {
	if len(c.models) == 0 {
		return nil, fmt.Errorf("no ground model registered: %w", raster.ErrConfiguration)
	}

	var contrib []contributor
	var finest *contributor
	for i, m := range c.models {
		mext, err := transformExtent(c.tr, m.Raster.CRS, crs, m.Raster.Extent())
		if err != nil {
			return nil, fmt.Errorf("reproject ground model %s: %w", m.Name, err)
		}
		// Reprojected cell size keeps the model's cells-per-width ratio.
		cell := mext.Width() / float64(m.Raster.Cols)
		cb := contributor{model: m, order: i, extent: mext, cellSize: cell, originX: mext.XMin, originY: mext.YMax}
		if finest == nil || cell < finest.cellSize {
			f := cb
			finest = &f
		}
		if !mext.Overlaps(ext) {
			continue
		}
		contrib = append(contrib, cb)
	}

	lattice := finest
	for i := range contrib {
		if i == 0 || contrib[i].cellSize < lattice.cellSize {
			lattice = &contrib[i]
		}
	}
	a := raster.NewAlignment(ext.Expand(lattice.cellSize), lattice.cellSize, lattice.originX, lattice.originY, crs)
	out := raster.New[float32](a)

	sort.SliceStable(contrib, func(i, j int) bool {
		return contrib[i].cellSize*contrib[i].cellSize < contrib[j].cellSize*contrib[j].cellSize
	})

	for _, cb := range contrib {
		written := 0
		for row := 0; row < a.Rows; row++ {
			for col := 0; col < a.Cols; col++ {
				i := a.Index(row, col)
				if out.Valid[i] {
					continue
				}
				x, y := a.CellCenter(row, col)
				mx, my, err := c.tr.Transform(crs, cb.model.Raster.CRS, x, y)
				if err != nil {
					return nil, fmt.Errorf("reproject composite cell into %s: %w", cb.model.Name, err)
				}
				if v, ok := cb.model.Raster.At(mx, my); ok {
					out.Values[i] = v
					out.Valid[i] = true
					written++
				}
			}
		}
		tracef("composite %s: model %s (cell %.3f) wrote %d cells", ext, cb.model.Name, cb.cellSize, written)
	}
	diagf("composite %s: %d/%d models overlap, %s", ext, len(contrib), len(c.models), a)
	return out, nil
}

// Normalize rewrites each point's Z as height above ground, sampling the
// ground raster bilinearly. Points without a ground sample or whose height
// falls outside [minHeight, maxHeight] are dropped. pts is compacted in
// place.
func (c *Compositor) Normalize(pts []l1points.Point, ground *raster.Raster[float32]) []l1points.Point {
	w := 0
	dropped := 0
	for _, p := range pts {
		g, ok := raster.Bilinear(ground, p.X, p.Y)
		if !ok {
			dropped++
			continue
		}
		h := p.Z - g
		if h < c.minHeight || h > c.maxHeight {
			dropped++
			continue
		}
		p.Z = h
		pts[w] = p
		w++
	}
	if dropped > 0 {
		tracef("normalize: dropped %d of %d points", dropped, len(pts))
	}
	return pts[:w]
}

// NormalizeToGround composites the ground under ext and normalises pts
// against it. It returns the composite and the surviving points.
func (c *Compositor) NormalizeToGround(pts []l1points.Point, ext raster.Extent, crs string) (*raster.Raster[float32], []l1points.Point, error) {
	ground, err := c.Composite(ext, crs)
	if err != nil {
		return nil, nil, err
	}
	if ground.CountValid() == 0 {
		opsf("no ground coverage under %s; all %d points dropped", ext, len(pts))
	}
	return ground, c.Normalize(pts, ground), nil
}
