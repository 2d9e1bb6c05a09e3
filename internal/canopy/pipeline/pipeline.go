package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/l2ground"
	"github.com/banshee-data/canopy.report/internal/canopy/l2stats"
	"github.com/banshee-data/canopy.report/internal/canopy/l3surface"
	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
	"github.com/banshee-data/canopy.report/internal/canopy/monitor"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
	"github.com/banshee-data/canopy.report/internal/canopy/scratch"
	"github.com/banshee-data/canopy.report/internal/canopy/storage/sqlite"
	"github.com/banshee-data/canopy.report/internal/canopy/tiling"
	"github.com/banshee-data/canopy.report/internal/config"
)

// Scratch products.
const (
	scratchCSM    = "csm"
	scratchStats  = "stats"
	scratchBasins = "basins"
)

// Options wires a pipeline to its collaborators. Source, Ground and Sink
// are required.
type Options struct {
	Source l1points.Source
	Filter l1points.Filter
	Ground *l2ground.Compositor
	Sink   rasterio.Sink

	// Scratch holds per-file intermediates between the phases. When nil an
	// in-memory store is opened for the run and closed afterwards.
	Scratch scratch.Store

	// Catalog, when set, records the run and its trees.
	Catalog *sqlite.Catalog

	Progress monitor.ProgressSink

	// CRS of every output product. Empty means the CRS of the first
	// readable input file.
	CRS string
}

// Pipeline runs the two phases over a set of point-cloud files. A
// Pipeline runs one Run at a time.
type Pipeline struct {
	params   config.Params
	opts     Options
	hist     *l2stats.HistogramConfig
	refiner  l3surface.Refiner
	detector l4trees.Detector
	seg      l4trees.Segmenter
	pool     *tiling.Pool
	shards   *tiling.ShardPool
}

// New validates params and options and builds the per-stage strategies.
// Every error wraps raster.ErrConfiguration.
func New(p config.Params, opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("no point-cloud source: %w", raster.ErrConfiguration)
	}
	if opts.Ground == nil || opts.Ground.Models() == 0 {
		return nil, fmt.Errorf("no ground model registered: %w", raster.ErrConfiguration)
	}
	if opts.Sink == nil {
		return nil, fmt.Errorf("no product sink: %w", raster.ErrConfiguration)
	}
	if opts.Progress == nil {
		opts.Progress = monitor.Nop{}
	}
	if p.Workers < 1 || p.Shards < 1 || p.BatchSize < 1 {
		return nil, fmt.Errorf("workers, shards and batch size must be positive: %w", raster.ErrConfiguration)
	}

	hist, err := l2stats.NewHistogramConfig(p.CanopyCutoff, p.MaxHeight, p.BinWidth)
	if err != nil {
		return nil, err
	}
	refiner, err := l3surface.NewRefiner(p.Refiner, l3surface.RefinerParams{
		Window:          p.SmoothWindow,
		NeighborsNeeded: p.FillNeighbors,
		SearchDistance:  p.FillSearchDistance,
	})
	if err != nil {
		return nil, err
	}
	seg := l4trees.Segmenter{CanopyCutoff: p.CanopyCutoff, Max: p.MaxHeight, BucketWidth: p.BucketWidth}
	if err := seg.Validate(); err != nil {
		return nil, err
	}
	if !(p.CSMCellSize > 0) || !(p.StatsCellSize > 0) || !(p.TileSize > 0) {
		return nil, fmt.Errorf("cell and tile sizes must be positive: %w", raster.ErrConfiguration)
	}

	return &Pipeline{
		params:   p,
		opts:     opts,
		hist:     hist,
		refiner:  refiner,
		detector: l4trees.Detector{MinHeight: p.MinTreeHeight, MinSeparation: p.MinTreeSeparation},
		seg:      seg,
		pool:     tiling.NewPool(p.Workers),
		shards:   tiling.NewShardPool(p.Shards),
	}, nil
}

// Abort asks a running Run to stop after the units in flight complete.
// Called between runs, it aborts the next Run. Either way the request is
// consumed by that Run and later runs proceed normally.
func (p *Pipeline) Abort() { p.pool.Abort() }

// Result summarises a completed run.
type Result struct {
	RunID        string
	Files        int
	FilesSkipped int
	Tiles        int
	Returns      int64 // points read that passed the filter
	Points       int64 // points normalised and accumulated
	Trees        []l4trees.Tree
	Layout       *tiling.Layout

	// Density is the per-cell count of returns over the area of interest
	// on the statistics lattice.
	Density *raster.Raster[int64]
}

// run holds the state shared by the phases of one Run.
type run struct {
	*Pipeline
	store   scratch.Store
	refs    *scratch.RefCounter
	crs     string
	csmGrid raster.Alignment
	stats   raster.Alignment
	layout  *tiling.Layout
	density *tiling.ShardedRaster[int64]
	claims  *tiling.ShardedMarkers

	densityFinal *raster.Raster[int64]

	files     []inputFile
	tileFiles [][]int
	tiles     []tileResult

	returns atomic.Int64
	points  atomic.Int64
	skipped atomic.Int64
}

// Run processes paths and writes every tile product to the sink. Files
// that cannot be read are skipped and reported to the progress sink.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*Result, error) {
	start := time.Now()
	defer p.pool.Reset()
	r := &run{
		Pipeline: p,
		store:    p.opts.Scratch,
		claims:   tiling.NewShardedMarkers(p.shards),
	}
	if r.store == nil {
		s, err := scratch.Open(scratch.BackendMemory, "")
		if err != nil {
			return nil, fmt.Errorf("open scratch store: %w", err)
		}
		defer s.Close()
		r.store = s
	}
	r.refs = scratch.NewRefCounter(r.store)

	runID, err := p.startRun(ctx)
	if err != nil {
		return nil, err
	}

	res, err := r.execute(ctx, paths)
	if res != nil {
		res.RunID = runID
	}
	if ferr := p.finishRun(ctx, runID, res, err); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		opsf("run failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}
	opsf("run complete in %s: %s files (%d skipped), %s tiles, %s points, %s trees",
		time.Since(start).Round(time.Millisecond),
		humanize.Comma(int64(res.Files)), res.FilesSkipped,
		humanize.Comma(int64(res.Tiles)), humanize.Comma(res.Points),
		humanize.Comma(int64(len(res.Trees))))
	return res, nil
}

func (r *run) execute(ctx context.Context, paths []string) (*Result, error) {
	if err := r.scan(ctx, paths); err != nil {
		return nil, err
	}
	if err := r.processFiles(ctx); err != nil {
		return nil, err
	}
	if err := r.assignTiles(); err != nil {
		return nil, err
	}
	if err := r.processTiles(ctx); err != nil {
		return nil, err
	}
	trees, err := r.reconcile()
	if err != nil {
		return nil, err
	}
	return &Result{
		Files:        len(r.files),
		FilesSkipped: int(r.skipped.Load()),
		Tiles:        r.layout.Count(),
		Returns:      r.returns.Load(),
		Points:       r.points.Load(),
		Trees:        trees,
		Layout:       r.layout,
		Density:      r.densityFinal,
	}, nil
}

// skip reports a file that could not be used. Only data errors are
// skippable; anything else is returned for the caller to abort on.
func (r *run) skip(path string, err error) error {
	if !errors.Is(err, raster.ErrData) {
		return err
	}
	r.skipped.Add(1)
	opsf("skipping %s: %v", path, err)
	r.opts.Progress.FileSkipped(path, err)
	return nil
}

// cover returns the alignment on lattice a that holds every point of ext,
// including points on its east and south edges.
func cover(a raster.Alignment, ext raster.Extent) raster.Alignment {
	pad := a.CellSize * 1e-3
	ext.XMax += pad
	ext.YMin -= pad
	return a.Snap(ext)
}
