package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/l2stats"
	"github.com/banshee-data/canopy.report/internal/canopy/l3surface"
	"github.com/banshee-data/canopy.report/internal/canopy/monitor"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
	"github.com/banshee-data/canopy.report/internal/canopy/scratch"
	"github.com/banshee-data/canopy.report/internal/canopy/tiling"
)

// inputFile tracks one input through the run.
type inputFile struct {
	path   string
	header l1points.Header
	err    error

	usable  bool // header read, CRS matches and points present
	written bool // phase 1 products are in scratch

	// products covers both scratch products of the file.
	products raster.Extent
}

// scan reads every header, fixes the output CRS and lays out the tiles
// over the union of the readable inputs.
func (r *run) scan(ctx context.Context, paths []string) error {
	r.files = make([]inputFile, len(paths))
	err := r.pool.Run(ctx, len(paths), func(_ context.Context, i int) error {
		f := inputFile{path: paths[i]}
		rd, err := r.opts.Source.Open(paths[i])
		if err != nil {
			f.err = err
		} else {
			f.header = rd.Header()
			f.err = rd.Close()
		}
		r.files[i] = f
		return nil
	})
	if err != nil {
		return err
	}

	r.crs = r.opts.CRS
	aoi := raster.EmptyExtent()
	for i := range r.files {
		f := &r.files[i]
		if f.err != nil {
			if err := r.skip(f.path, f.err); err != nil {
				return fmt.Errorf("read header of %s: %w", f.path, err)
			}
			continue
		}
		if f.header.Count == 0 {
			diagf("%s: no points", f.path)
			continue
		}
		if r.crs == "" {
			r.crs = f.header.CRS
		}
		if f.header.CRS != r.crs {
			err := fmt.Errorf("CRS %q differs from run CRS %q: %w", f.header.CRS, r.crs, raster.ErrData)
			if err := r.skip(f.path, err); err != nil {
				return err
			}
			continue
		}
		f.usable = true
		aoi = aoi.Union(f.header.Extent)
	}
	if aoi.XMin > aoi.XMax {
		return fmt.Errorf("no readable point-cloud files among %d: %w", len(paths), raster.ErrData)
	}

	r.csmGrid = raster.Alignment{CellSize: r.params.CSMCellSize, CRS: r.crs}
	r.stats = raster.Alignment{CellSize: r.params.StatsCellSize, CRS: r.crs}
	area := cover(r.stats, aoi)
	buffer := tiling.BufferFor(r.params.TileBuffer, r.params.StatsCellSize, r.params.CSMCellSize)
	layout, err := tiling.NewLayout(area.Extent(), r.params.TileSize, buffer)
	if err != nil {
		return err
	}
	r.layout = layout
	r.density = tiling.NewShardedRaster[int64](area, r.shards)
	opsf("area of interest %s: %d x %d tiles of %.1f (buffer %.1f), crs %q",
		area.Extent(), layout.Rows, layout.Cols, layout.TileSize, layout.Buffer, r.crs)
	return nil
}

// processFiles is phase 1.
func (r *run) processFiles(ctx context.Context) error {
	n := len(r.files)
	r.opts.Progress.PhaseStarted(monitor.PhaseFiles, n)
	start := time.Now()
	err := r.pool.Run(ctx, n, func(_ context.Context, i int) error {
		t0 := time.Now()
		f := &r.files[i]
		if f.usable {
			if err := r.processFile(i); err != nil {
				if err := r.skip(f.path, err); err != nil {
					return fmt.Errorf("process %s: %w", f.path, err)
				}
			}
		}
		r.opts.Progress.UnitDone(monitor.PhaseFiles, i, time.Since(t0))
		return nil
	})
	r.opts.Progress.PhaseFinished(monitor.PhaseFiles, time.Since(start))
	return err
}

// processFile normalises one file and writes its surface and statistics
// products to scratch. Shared state is only touched once the file has
// been read in full, so a file skipped part way contributes nothing.
func (r *run) processFile(i int) error {
	f := &r.files[i]
	rd, err := r.opts.Source.Open(f.path)
	if err != nil {
		return err
	}
	defer rd.Close()
	hdr := rd.Header()

	ground, err := r.opts.Ground.Composite(hdr.Extent, r.crs)
	if err != nil {
		return err
	}
	if ground.CountValid() == 0 {
		opsf("%s: no ground coverage; every point will be dropped", f.path)
	}

	builder := l3surface.Begin(cover(r.csmGrid, hdr.Extent), r.params.FootprintDiameter/2)
	grid := l2stats.NewStatsGrid(cover(r.stats, hdr.Extent), r.hist)
	dens := r.density.Alignment()
	counts := make(map[int]int64)
	var returns, points int64
	for {
		batch, err := rd.ReadBatch(r.params.BatchSize)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		batch = l1points.Apply(batch, r.opts.Filter)
		for _, p := range batch {
			if row, col, ok := dens.CellOf(p.X, p.Y); ok {
				counts[dens.Index(row, col)]++
			}
		}
		returns += int64(len(batch))

		batch = r.opts.Ground.Normalize(batch, ground)
		grid.Add(batch)
		builder.AddPoints(batch)
		points += int64(len(batch))
	}

	csm := builder.Finalize()
	blob, err := raster.Encode(csm)
	if err != nil {
		return fmt.Errorf("encode surface of %s: %w", f.path, err)
	}
	if err := r.store.Put(scratch.Key(scratchCSM, i), blob); err != nil {
		return err
	}
	blob, err = grid.Encode()
	if err != nil {
		return fmt.Errorf("encode statistics of %s: %w", f.path, err)
	}
	if err := r.store.Put(scratch.Key(scratchStats, i), blob); err != nil {
		return err
	}
	f.products = csm.Extent().Union(grid.Extent())
	f.written = true

	for idx, n := range counts {
		r.density.Update(idx/dens.Cols, idx%dens.Cols, func(v int64, _ bool) (int64, bool) {
			return v + n, true
		})
	}
	r.returns.Add(returns)
	r.points.Add(points)
	diagf("%s: %s returns, %s normalised", f.path, humanize.Comma(returns), humanize.Comma(points))
	return nil
}

// assignTiles runs at the barrier: it lists the files each tile reads and
// retains their scratch products once per reading tile.
func (r *run) assignTiles() error {
	r.tileFiles = make([][]int, r.layout.Count())
	for i, f := range r.files {
		if !f.written {
			continue
		}
		tiles := r.layout.TilesOverlapping(f.products)
		keys := []string{scratch.Key(scratchCSM, i), scratch.Key(scratchStats, i)}
		for _, k := range keys {
			if len(tiles) == 0 {
				if err := r.store.Delete(k); err != nil {
					return err
				}
				continue
			}
			r.refs.Retain(k, len(tiles))
		}
		for _, t := range tiles {
			r.tileFiles[t] = append(r.tileFiles[t], i)
		}
	}
	r.densityFinal = r.density.Snapshot()
	tracef("barrier: %d scratch products live", r.refs.Live())
	return nil
}
