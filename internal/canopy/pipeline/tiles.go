package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/canopy.report/internal/canopy/l2stats"
	"github.com/banshee-data/canopy.report/internal/canopy/l3surface"
	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
	"github.com/banshee-data/canopy.report/internal/canopy/monitor"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
	"github.com/banshee-data/canopy.report/internal/canopy/scratch"
	"github.com/banshee-data/canopy.report/internal/canopy/tiling"
)

// tileResult is what phase 2 hands to reconciliation for one tile.
type tileResult struct {
	markers tiling.TileMarkers
	trees   []l4trees.Tree
}

// processTiles is phase 2.
func (r *run) processTiles(ctx context.Context) error {
	n := r.layout.Count()
	r.tiles = make([]tileResult, n)
	r.opts.Progress.PhaseStarted(monitor.PhaseTiles, n)
	start := time.Now()
	err := r.pool.Run(ctx, n, func(_ context.Context, t int) error {
		t0 := time.Now()
		if err := r.processTile(t); err != nil {
			return fmt.Errorf("tile %d: %w", t, err)
		}
		r.opts.Progress.UnitDone(monitor.PhaseTiles, t, time.Since(t0))
		return nil
	})
	r.opts.Progress.PhaseFinished(monitor.PhaseTiles, time.Since(start))
	return err
}

// processTile builds tile t over its buffered extent, runs refinement,
// detection and segmentation, and writes the products cropped to the
// tile's core. Basin labels wait in scratch for reconciliation.
func (r *run) processTile(t int) error {
	core := r.layout.TileExtent(t)
	buffered := r.layout.BufferedExtent(t)

	csm := raster.New[float32](r.csmGrid.Snap(buffered))
	grid := l2stats.NewStatsGrid(r.stats.Snap(buffered), r.hist)
	for _, i := range r.tileFiles[t] {
		if err := r.foldFile(i, csm, grid); err != nil {
			return err
		}
	}

	ground, err := r.opts.Ground.Composite(core, r.crs)
	if err != nil {
		return err
	}
	if ground, err = ground.Window(ground.Snap(core)); err != nil {
		return err
	}
	if err := r.opts.Sink.WriteFloat(rasterio.ProductGround, t, ground); err != nil {
		return err
	}

	refined := r.refiner.Refine(csm)
	cands := r.detector.Detect(refined)
	seg, err := r.seg.Segment(refined, cands, l4trees.NewTileIDGenerator(t, r.layout.Count()))
	if err != nil {
		return err
	}

	csmCore := r.csmGrid.Snap(core)
	statsCore := r.stats.Snap(core)
	out, err := refined.Window(csmCore)
	if err != nil {
		return err
	}
	if err := r.opts.Sink.WriteFloat(rasterio.ProductCSM, t, out); err != nil {
		return err
	}
	for _, name := range l2stats.Metrics {
		m, err := grid.Metric(name)
		if err != nil {
			return err
		}
		if m, err = m.Window(statsCore); err != nil {
			return err
		}
		if err := r.opts.Sink.WriteFloat(rasterio.StatsPrefix+name, t, m); err != nil {
			return err
		}
	}
	dens, err := r.densityFinal.Window(statsCore)
	if err != nil {
		return err
	}
	if err := r.opts.Sink.WriteInt(rasterio.ProductDensity, t, dens); err != nil {
		return err
	}

	labels, err := seg.Labels.Window(csmCore)
	if err != nil {
		return err
	}
	blob, err := raster.Encode(labels)
	if err != nil {
		return fmt.Errorf("encode basins: %w", err)
	}
	if err := r.store.Put(scratch.Key(scratchBasins, t), blob); err != nil {
		return err
	}

	areas := seg.Areas()
	tm := tiling.TileMarkers{Tile: t, Markers: make(map[tiling.MarkerKey]int64, len(seg.Markers))}
	var trees []l4trees.Tree
	for _, m := range seg.Markers {
		x, y := refined.CellCenter(m.Row, m.Col)
		k := tiling.KeyOf(x, y, r.params.CSMCellSize)
		r.claims.Claim(k, tiling.Claim{Tile: t, ID: m.ID})
		tm.Markers[k] = m.ID
		if !core.Contains(x, y) {
			continue
		}
		trees = append(trees, l4trees.Tree{
			ID:        m.ID,
			X:         x,
			Y:         y,
			Height:    float64(m.Height),
			BasinArea: float64(areas[m.ID]) * refined.CellArea(),
			Tile:      t,
		})
	}
	r.tiles[t] = tileResult{markers: tm, trees: trees}
	diagf("tile %d: %d files, %d candidates, %d markers, %d trees", t, len(r.tileFiles[t]), len(cands), len(seg.Markers), len(trees))
	return nil
}

// foldFile folds file i's scratch products into the tile rasters and
// releases them.
func (r *run) foldFile(i int, csm *raster.Raster[float32], grid *l2stats.StatsGrid) error {
	csmKey := scratch.Key(scratchCSM, i)
	blob, err := r.store.Get(csmKey)
	if err != nil {
		return err
	}
	src, err := raster.Decode[float32](blob)
	if err != nil {
		return fmt.Errorf("decode %s: %w", csmKey, err)
	}
	if err := l3surface.Fold(csm, src); err != nil {
		return err
	}

	statsKey := scratch.Key(scratchStats, i)
	if blob, err = r.store.Get(statsKey); err != nil {
		return err
	}
	g, err := l2stats.DecodeStatsGrid(blob, r.hist)
	if err != nil {
		return fmt.Errorf("decode %s: %w", statsKey, err)
	}
	if err := grid.Merge(g); err != nil {
		return err
	}

	for _, k := range []string{csmKey, statsKey} {
		if _, err := r.refs.Release(k); err != nil {
			return err
		}
	}
	return nil
}
