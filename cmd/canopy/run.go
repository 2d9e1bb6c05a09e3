package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/l2ground"
	"github.com/banshee-data/canopy.report/internal/canopy/monitor"
	"github.com/banshee-data/canopy.report/internal/canopy/pipeline"
	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
	"github.com/banshee-data/canopy.report/internal/canopy/scratch"
	"github.com/banshee-data/canopy.report/internal/canopy/storage/sqlite"
	"github.com/banshee-data/canopy.report/internal/config"
)

// runCommand holds the flags of the run command.
type runCommand struct {
	configPath   string
	outDir       string
	ground       []string
	crs          string
	scratchDir   string
	catalogPath  string
	noCatalog    bool
	metricsAddr  string
	quicklook    bool
	workers      int
	excludeClass []uint
	firstReturns bool
	minIntensity uint16
}

func newRunCommand() *cobra.Command {
	rc := &runCommand{}
	cmd := &cobra.Command{
		Use:   "run [flags] <file-or-dir>...",
		Short: "Process point-cloud files into tiled products",
		Long: `Process point-cloud files into tiled products.

Each input is a CloudCompare-style ASCII point file (.asc, .xyz, .txt) or a
directory of them. Products are written under --out as
<product>/tile_<n>.gob.gz: ground, csm, basins, density and one
stats_<metric> product per statistic.`,
		Args: cobra.MinimumNArgs(1),
		RunE: rc.run,
	}

	f := cmd.Flags()
	f.StringVarP(&rc.configPath, "config", "c", "", "run configuration (.json, .yaml or .yml)")
	f.StringVarP(&rc.outDir, "out", "o", "canopy-out", "output directory")
	f.StringArrayVarP(&rc.ground, "ground", "g", nil, "ground model raster (ESRI ASCII grid or gob.gz); repeatable, finest wins")
	f.StringVar(&rc.crs, "crs", "", "coordinate reference of inputs and ground models")
	f.StringVar(&rc.scratchDir, "scratch-dir", "", "scratch directory (default: <out>/.scratch, removed after the run)")
	f.StringVar(&rc.catalogPath, "catalog", "", "tree catalog database (default: <out>/catalog.db)")
	f.BoolVar(&rc.noCatalog, "no-catalog", false, "do not record the run in a catalog")
	f.StringVar(&rc.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.BoolVar(&rc.quicklook, "quicklook", false, "write a PNG quicklook next to each surface tile")
	f.IntVar(&rc.workers, "workers", 0, "worker count (0 = from config)")
	f.UintSliceVar(&rc.excludeClass, "exclude-class", []uint{7, 18}, "drop points of these classifications")
	f.BoolVar(&rc.firstReturns, "first-returns", false, "keep first returns only")
	f.Uint16Var(&rc.minIntensity, "min-intensity", 0, "drop points below this intensity")

	_ = cmd.MarkFlagRequired("ground")
	return cmd
}

func (rc *runCommand) run(cmd *cobra.Command, args []string) error {
	params, err := loadParams(rc.configPath)
	if err != nil {
		return err
	}
	if rc.workers > 0 {
		params.Workers = rc.workers
	}

	paths, err := expandInputs(args)
	if err != nil {
		return err
	}

	ground := l2ground.NewCompositor(nil, params.MinHeight, params.MaxHeight)
	for _, g := range rc.ground {
		r, err := rasterio.ReadRaster(g, rc.crs)
		if err != nil {
			return fmt.Errorf("ground model %s: %w", g, err)
		}
		ground.Register(filepath.Base(g), r)
	}

	sink, err := rasterio.NewDirSink(rc.outDir, rc.quicklook)
	if err != nil {
		return err
	}

	scratchDir := rc.scratchDir
	if scratchDir == "" {
		scratchDir = filepath.Join(rc.outDir, ".scratch")
		defer os.RemoveAll(scratchDir)
	}
	store, err := scratch.Open(params.ScratchBackend, scratchDir)
	if err != nil {
		return err
	}
	defer store.Close()

	var catalog *sqlite.Catalog
	if !rc.noCatalog {
		path := rc.catalogPath
		if path == "" {
			path = filepath.Join(rc.outDir, "catalog.db")
		}
		if catalog, err = sqlite.Open(path); err != nil {
			return err
		}
		defer catalog.Close()
	}

	metrics := monitor.NewMetrics()
	progress := monitor.Multi{metrics}
	if !quiet {
		progress = append(progress, monitor.NewLogSink(os.Stderr, "[canopy] "))
	}

	p, err := pipeline.New(params, pipeline.Options{
		Source:   l1points.ASCIISource{CRS: rc.crs},
		Filter:   rc.filter(),
		Ground:   ground,
		Sink:     sink,
		Scratch:  store,
		Catalog:  catalog,
		Progress: progress,
		CRS:      rc.crs,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	context.AfterFunc(ctx, p.Abort)

	if rc.metricsAddr != "" {
		shutdown := serveMetrics(rc.metricsAddr, metrics.Handler())
		defer shutdown()
	}

	start := time.Now()
	res, err := p.Run(ctx, paths)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), res, time.Since(start))
	return nil
}

func (rc *runCommand) filter() l1points.Filter {
	var filters []l1points.Filter
	if len(rc.excludeClass) > 0 {
		classes := make([]uint8, 0, len(rc.excludeClass))
		for _, c := range rc.excludeClass {
			classes = append(classes, uint8(c))
		}
		filters = append(filters, l1points.ExcludeClasses(classes...))
	}
	if rc.firstReturns {
		filters = append(filters, l1points.FirstReturnsOnly())
	}
	if rc.minIntensity > 0 {
		filters = append(filters, l1points.MinIntensity(rc.minIntensity))
	}
	if len(filters) == 0 {
		return nil
	}
	return l1points.All(filters...)
}

func loadParams(path string) (config.Params, error) {
	cfg := config.EmptyRunConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadRunConfig(path); err != nil {
			return config.Params{}, err
		}
	}
	return cfg.Resolve()
}

// serveMetrics starts a metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, h http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			server.Close()
		}
	}
}

func printSummary(w io.Writer, res *pipeline.Result, elapsed time.Duration) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("canopy run")
	if res.RunID != "" {
		tbl.AppendRow(table.Row{"run", res.RunID})
	}
	tbl.AppendRows([]table.Row{
		{"files", fmt.Sprintf("%s (%d skipped)", humanize.Comma(int64(res.Files)), res.FilesSkipped)},
		{"tiles", fmt.Sprintf("%s (%d x %d)", humanize.Comma(int64(res.Tiles)), res.Layout.Rows, res.Layout.Cols)},
		{"returns", humanize.Comma(res.Returns)},
		{"points", humanize.Comma(res.Points)},
		{"trees", humanize.Comma(int64(len(res.Trees)))},
		{"elapsed", elapsed.Round(time.Millisecond).String()},
	})
	tbl.Render()
}
