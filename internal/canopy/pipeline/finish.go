package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
	"github.com/banshee-data/canopy.report/internal/canopy/scratch"
	"github.com/banshee-data/canopy.report/internal/canopy/storage/sqlite"
	"github.com/banshee-data/canopy.report/internal/canopy/tiling"
)

// reconcile is the serial pass after phase 2. Markers claimed by a lower
// tile rewrite this tile's basin labels and tree IDs to the shared ID.
func (r *run) reconcile() ([]l4trees.Tree, error) {
	tms := make([]tiling.TileMarkers, len(r.tiles))
	for t, tr := range r.tiles {
		tms[t] = tr.markers
	}
	remaps := tiling.Reconcile(r.claims, tms)

	var trees []l4trees.Tree
	for t := range r.tiles {
		key := scratch.Key(scratchBasins, t)
		blob, err := r.store.Get(key)
		if err != nil {
			return nil, err
		}
		labels, err := raster.Decode[int64](blob)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		rm := remaps[t]
		if n := tiling.ApplyRemap(labels, rm); n > 0 {
			diagf("tile %d: %d cells relabelled across %d shared basins", t, n, len(rm))
		}
		if err := r.opts.Sink.WriteInt(rasterio.ProductBasins, t, labels); err != nil {
			return nil, err
		}
		if err := r.store.Delete(key); err != nil {
			return nil, err
		}
		for _, tree := range r.tiles[t].trees {
			if id, ok := rm[tree.ID]; ok {
				tree.ID = id
			}
			trees = append(trees, tree)
		}
	}
	return trees, nil
}

func (p *Pipeline) startRun(ctx context.Context) (string, error) {
	if p.opts.Catalog == nil {
		return "", nil
	}
	id, err := p.opts.Catalog.StartRun(ctx, p.params.JSON())
	if err != nil {
		return "", err
	}
	opsf("catalog run %s started", id)
	return id, nil
}

// finishRun records the outcome. It runs even when ctx is cancelled so a
// failed run is never left marked as running.
func (p *Pipeline) finishRun(ctx context.Context, runID string, res *Result, runErr error) error {
	if p.opts.Catalog == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	s := sqlite.RunSummary{Status: sqlite.StatusFailed}
	if runErr == nil && res != nil {
		if err := p.opts.Catalog.InsertTrees(ctx, runID, res.Trees); err != nil {
			p.opts.Catalog.FinishRun(ctx, runID, s)
			return err
		}
		s = sqlite.RunSummary{
			Status:       sqlite.StatusComplete,
			Files:        int64(res.Files),
			FilesSkipped: int64(res.FilesSkipped),
			Tiles:        int64(res.Tiles),
			Points:       res.Points,
		}
	}
	return p.opts.Catalog.FinishRun(ctx, runID, s)
}
