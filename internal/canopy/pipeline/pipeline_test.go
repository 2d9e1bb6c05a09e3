package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/l2ground"
	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
	"github.com/banshee-data/canopy.report/internal/canopy/monitor"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
	"github.com/banshee-data/canopy.report/internal/canopy/scratch"
	"github.com/banshee-data/canopy.report/internal/canopy/storage/sqlite"
	"github.com/banshee-data/canopy.report/internal/canopy/tiling"
	"github.com/banshee-data/canopy.report/internal/config"
)

const testCRS = "EPSG:32633"

type cone struct{ x, y, h float64 }

// The first cone sits in tile 2's core; the second sits just north of the
// boundary between tiles 1 and 3, inside both buffered extents.
var cones = []cone{{10.5, 10.5, 15}, {30.5, 21.5, 12}}

func canopyHeight(x, y float64) float64 {
	h := 0.0
	for _, c := range cones {
		h = math.Max(h, c.h-1.5*math.Hypot(x-c.x, y-c.y))
	}
	return h
}

// forestSource splits a 40x40 stand sampled every 0.5 into three files
// by easting.
func forestSource() (*l1points.MemorySource, []string) {
	src := l1points.NewMemorySource()
	src.CRS = testCRS
	files := map[string][]l1points.Point{}
	paths := []string{"west.asc", "middle.asc", "east.asc"}
	for y := 0.25; y < 40; y += 0.5 {
		for x := 0.25; x < 40; x += 0.5 {
			p := l1points.Point{X: x, Y: y, Z: canopyHeight(x, y)}
			switch {
			case x < 15:
				files[paths[0]] = append(files[paths[0]], p)
			case x < 28:
				files[paths[1]] = append(files[paths[1]], p)
			default:
				files[paths[2]] = append(files[paths[2]], p)
			}
		}
	}
	for _, p := range paths {
		src.Add(p, files[p])
	}
	return src, paths
}

func testParams(workers int) config.Params {
	p := config.EmptyRunConfig().Params()
	p.StatsCellSize = 5
	p.TileSize = 20
	p.TileBuffer = 2
	p.Workers = workers
	p.Shards = 8
	p.BatchSize = 500
	return p
}

func flatGround(p config.Params) *l2ground.Compositor {
	g := raster.New[float32](raster.NewAlignment(raster.Extent{XMin: -10, YMin: -10, XMax: 50, YMax: 50}, 2, 0, 0, testCRS))
	g.Fill(0, true)
	c := l2ground.NewCompositor(nil, p.MinHeight, p.MaxHeight)
	c.Register("flat", g)
	return c
}

type skipRecorder struct {
	monitor.Nop
	mu      sync.Mutex
	skipped []string
}

func (r *skipRecorder) FileSkipped(path string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped = append(r.skipped, path)
}

func runForest(t *testing.T, workers int, store scratch.Store) (*Result, *rasterio.MemorySink) {
	t.Helper()
	src, paths := forestSource()
	params := testParams(workers)
	sink := rasterio.NewMemorySink()
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: sink, Scratch: store})
	require.NoError(t, err)
	res, err := p.Run(context.Background(), paths)
	require.NoError(t, err)
	return res, sink
}

func treeInTile(t *testing.T, trees []l4trees.Tree, tile int) l4trees.Tree {
	t.Helper()
	for _, tr := range trees {
		if tr.Tile == tile {
			return tr
		}
	}
	t.Fatalf("no tree reported in tile %d: %+v", tile, trees)
	return l4trees.Tree{}
}

func TestRun_DetectsTrees(t *testing.T) {
	res, sink := runForest(t, 2, nil)

	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 0, res.FilesSkipped)
	assert.Equal(t, 4, res.Tiles)
	assert.Equal(t, int64(6400), res.Returns)
	assert.Equal(t, int64(6400), res.Points)
	require.Len(t, res.Trees, 2)

	first := treeInTile(t, res.Trees, 2)
	assert.InDelta(t, 10.5, first.X, 1e-9)
	assert.InDelta(t, 10.5, first.Y, 1e-9)
	assert.InDelta(t, 15-1.5*math.Sqrt(0.125), first.Height, 1e-3)
	assert.Greater(t, first.BasinArea, 100.0)
	assert.Equal(t, int64(2), first.ID%4)

	second := treeInTile(t, res.Trees, 1)
	assert.InDelta(t, 30.5, second.X, 1e-9)
	assert.InDelta(t, 21.5, second.Y, 1e-9)
	assert.Equal(t, int64(1), second.ID%4)

	// The second crown spills into tile 3, which floods it under its own
	// ID until reconciliation rewrites it.
	north, ok := sink.Int(rasterio.ProductBasins, 1)
	require.True(t, ok)
	south, ok := sink.Int(rasterio.ProductBasins, 3)
	require.True(t, ok)
	id, ok := north.At(30.5, 21.5)
	require.True(t, ok)
	assert.Equal(t, second.ID, id)
	id, ok = south.At(30.5, 19.5)
	require.True(t, ok)
	assert.Equal(t, second.ID, id)

	csm, ok := sink.Float(rasterio.ProductCSM, 2)
	require.True(t, ok)
	assert.Equal(t, 20, csm.Rows)
	assert.Equal(t, 20, csm.Cols)
	h, ok := csm.At(10.5, 10.5)
	require.True(t, ok)
	assert.InDelta(t, first.Height, float64(h), 1e-6)

	var total int64
	for i, v := range res.Density.Values {
		if res.Density.Valid[i] {
			total += v
		}
	}
	assert.Equal(t, res.Returns, total)

	ground, ok := sink.Float(rasterio.ProductGround, 0)
	require.True(t, ok)
	assert.Equal(t, [2]int{10, 10}, [2]int{ground.Rows, ground.Cols}, "ground tile is cropped to the core")

	for _, name := range []string{rasterio.ProductGround, rasterio.ProductDensity, rasterio.StatsPrefix + "mean"} {
		for tile := 0; tile < 4; tile++ {
			_, okF := sink.Float(name, tile)
			_, okI := sink.Int(name, tile)
			assert.True(t, okF || okI, "%s tile %d not written", name, tile)
		}
	}
}

func TestRun_KeepsPointsOnFileEdges(t *testing.T) {
	var pts []l1points.Point
	for y := 0; y <= 10; y++ {
		for x := 0; x <= 10; x++ {
			pts = append(pts, l1points.Point{X: float64(x), Y: float64(y), Z: 1})
		}
	}
	src := l1points.NewMemorySource()
	src.CRS = testCRS
	src.Add("grid.asc", pts)

	g := raster.New[float32](raster.NewAlignment(raster.Extent{XMin: -10, YMin: -10, XMax: 50, YMax: 50}, 1, 0, 0, testCRS))
	g.Fill(0, true)
	params := testParams(1)
	ground := l2ground.NewCompositor(nil, params.MinHeight, params.MaxHeight)
	ground.Register("flat", g)

	p, err := New(params, Options{Source: src, Ground: ground, Sink: rasterio.NewMemorySink()})
	require.NoError(t, err)
	res, err := p.Run(context.Background(), []string{"grid.asc"})
	require.NoError(t, err)
	assert.Equal(t, int64(121), res.Returns)
	assert.Equal(t, res.Returns, res.Points, "every point has ground coverage")
}

func TestRun_WorkerCountDoesNotChangeOutput(t *testing.T) {
	serial, serialSink := runForest(t, 1, nil)

	dir := t.TempDir()
	store, err := scratch.NewDirStore(dir)
	require.NoError(t, err)
	parallel, parallelSink := runForest(t, 4, store)

	require.Equal(t, serialSink.Keys(), parallelSink.Keys())
	for _, k := range serialSink.Keys() {
		if a, ok := serialSink.Float(k.Product, k.Tile); ok {
			b, _ := parallelSink.Float(k.Product, k.Tile)
			if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
				t.Errorf("%s tile %d differs (-1 worker +4 workers):\n%s", k.Product, k.Tile, diff)
			}
			continue
		}
		a, _ := serialSink.Int(k.Product, k.Tile)
		b, _ := parallelSink.Int(k.Product, k.Tile)
		if diff := cmp.Diff(a, b, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("%s tile %d differs (-1 worker +4 workers):\n%s", k.Product, k.Tile, diff)
		}
	}
	if diff := cmp.Diff(serial.Trees, parallel.Trees); diff != "" {
		t.Errorf("trees differ (-1 worker +4 workers):\n%s", diff)
	}
	if diff := cmp.Diff(serial.Density, parallel.Density); diff != "" {
		t.Errorf("density differs:\n%s", diff)
	}

	// Every scratch entry is released by the end of the run.
	var left []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && strings.HasSuffix(path, ".bin") {
			left = append(left, path)
		}
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_SkipsUnreadableFile(t *testing.T) {
	src, paths := forestSource()
	params := testParams(3)
	rec := &skipRecorder{}
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink(), Progress: rec})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), append(paths, "missing.asc"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 1, res.FilesSkipped)
	assert.Equal(t, []string{"missing.asc"}, rec.skipped)
	assert.Len(t, res.Trees, 2)
}

func TestRun_SkipsForeignCRS(t *testing.T) {
	src, paths := forestSource()
	params := testParams(1)
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink(), CRS: "EPSG:4326"})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), paths)
	assert.True(t, errors.Is(err, raster.ErrData), "got %v", err)
}

func TestRun_NoReadableFiles(t *testing.T) {
	src := l1points.NewMemorySource()
	params := testParams(1)
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink()})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []string{"a.asc", "b.asc"})
	assert.True(t, errors.Is(err, raster.ErrData), "got %v", err)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	src, _ := forestSource()
	params := testParams(1)
	sink := rasterio.NewMemorySink()

	tests := []struct {
		name   string
		params func(config.Params) config.Params
		opts   Options
	}{
		{
			name:   "no ground model",
			params: func(p config.Params) config.Params { return p },
			opts:   Options{Source: src, Ground: l2ground.NewCompositor(nil, -2, 80), Sink: sink},
		},
		{
			name:   "no source",
			params: func(p config.Params) config.Params { return p },
			opts:   Options{Ground: flatGround(params), Sink: sink},
		},
		{
			name:   "zero bin width",
			params: func(p config.Params) config.Params { p.BinWidth = 0; return p },
			opts:   Options{Source: src, Ground: flatGround(params), Sink: sink},
		},
		{
			name:   "zero smoothing window",
			params: func(p config.Params) config.Params { p.Refiner = "smooth"; p.SmoothWindow = 0; return p },
			opts:   Options{Source: src, Ground: flatGround(params), Sink: sink},
		},
		{
			name:   "zero search distance",
			params: func(p config.Params) config.Params { p.Refiner = "fill"; p.FillSearchDistance = 0; return p },
			opts:   Options{Source: src, Ground: flatGround(params), Sink: sink},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.params(params), tt.opts)
			assert.True(t, errors.Is(err, raster.ErrConfiguration), "got %v", err)
		})
	}
}

func TestRun_RecordsCatalog(t *testing.T) {
	ctx := context.Background()
	cat, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()

	src, paths := forestSource()
	params := testParams(2)
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink(), Catalog: cat})
	require.NoError(t, err)
	res, err := p.Run(ctx, paths)
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	rec, err := cat.Run(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, sqlite.StatusComplete, rec.Status)
	assert.Equal(t, int64(3), rec.Files)
	assert.Equal(t, int64(4), rec.Tiles)
	assert.Equal(t, res.Points, rec.Points)
	assert.Contains(t, rec.ConfigJSON, `"tile_size":20`)

	trees, err := cat.Trees(ctx, res.RunID)
	require.NoError(t, err)
	assert.Len(t, trees, len(res.Trees))
}

func TestRun_AbortMarksRunFailed(t *testing.T) {
	ctx := context.Background()
	cat, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()

	src, paths := forestSource()
	params := testParams(2)
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink(), Catalog: cat})
	require.NoError(t, err)
	p.Abort()

	_, err = p.Run(ctx, paths)
	require.ErrorIs(t, err, tiling.ErrAborted)

	runs, err := cat.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.StatusFailed, runs[0].Status)
}

func TestRun_AbortDoesNotOutliveRun(t *testing.T) {
	src, paths := forestSource()
	params := testParams(2)
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink()})
	require.NoError(t, err)

	p.Abort()
	_, err = p.Run(context.Background(), paths)
	require.ErrorIs(t, err, tiling.ErrAborted)

	res, err := p.Run(context.Background(), paths)
	require.NoError(t, err)
	assert.Len(t, res.Trees, 2)
}
