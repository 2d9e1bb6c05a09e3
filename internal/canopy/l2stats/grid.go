package l2stats

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Metric names rendered by StatsGrid.Metric.
const (
	MetricCount       = "count"
	MetricCanopyCount = "canopy_count"
	MetricMean        = "mean"
	MetricStdDev      = "stddev"
	MetricP25         = "p25"
	MetricP50         = "p50"
	MetricP75         = "p75"
	MetricP95         = "p95"
	MetricCover       = "cover"
	MetricMax         = "max"
)

// Metrics lists every metric name in output order.
var Metrics = []string{
	MetricCount, MetricCanopyCount, MetricMean, MetricStdDev,
	MetricP25, MetricP50, MetricP75, MetricP95, MetricCover, MetricMax,
}

// StatsGrid holds one lazily created accumulator per raster cell.
type StatsGrid struct {
	raster.Alignment
	cfg   *HistogramConfig
	cells []*Accumulator
}

// NewStatsGrid returns an empty grid over a.
func NewStatsGrid(a raster.Alignment, cfg *HistogramConfig) *StatsGrid {
	return &StatsGrid{Alignment: a, cfg: cfg, cells: make([]*Accumulator, a.Cells())}
}

// Add accumulates each point's height (Z, already normalised) into the
// cell containing it. Points outside the grid are ignored. It returns the
// number of points accumulated.
func (g *StatsGrid) Add(pts []l1points.Point) int {
	n := 0
	for _, p := range pts {
		row, col, ok := g.CellOf(p.X, p.Y)
		if !ok {
			continue
		}
		i := g.Index(row, col)
		if g.cells[i] == nil {
			g.cells[i] = NewAccumulator(g.cfg)
		}
		g.cells[i].AddPoint(p.Z)
		n++
	}
	return n
}

// Cell returns the accumulator at (row, col), or nil if no point fell there.
func (g *StatsGrid) Cell(row, col int) *Accumulator {
	if !g.InBounds(row, col) {
		return nil
	}
	return g.cells[g.Index(row, col)]
}

// Merge folds other into g cell by cell. other must share g's lattice and
// may extend beyond it.
func (g *StatsGrid) Merge(other *StatsGrid) error {
	dRow, dCol, ok := g.Offset(other.Alignment)
	if !ok {
		return fmt.Errorf("merge stats grid %s into %s: %w", other.Alignment, g.Alignment, raster.ErrAlignment)
	}
	for row := 0; row < other.Rows; row++ {
		dr := row + dRow
		if dr < 0 || dr >= g.Rows {
			continue
		}
		for col := 0; col < other.Cols; col++ {
			dc := col + dCol
			if dc < 0 || dc >= g.Cols {
				continue
			}
			src := other.cells[other.Index(row, col)]
			if src == nil {
				continue
			}
			di := g.Index(dr, dc)
			if g.cells[di] == nil {
				g.cells[di] = NewAccumulator(g.cfg)
			}
			if err := g.cells[di].Merge(src); err != nil {
				return err
			}
		}
	}
	return nil
}

// Metric renders one named statistic as a raster. Cells whose statistic
// has no value are absent.
func (g *StatsGrid) Metric(name string) (*raster.Raster[float32], error) {
	eval, err := metricFunc(name)
	if err != nil {
		return nil, err
	}
	out := raster.New[float32](g.Alignment)
	for i, acc := range g.cells {
		if acc == nil {
			continue
		}
		if v, ok := eval(acc); ok {
			out.Values[i] = float32(v)
			out.Valid[i] = true
		}
	}
	return out, nil
}

func metricFunc(name string) (func(*Accumulator) (float64, bool), error) {
	switch name {
	case MetricCount:
		return func(a *Accumulator) (float64, bool) { return float64(a.Count()), true }, nil
	case MetricCanopyCount:
		return func(a *Accumulator) (float64, bool) { return float64(a.CanopyCount()), true }, nil
	case MetricMean:
		return (*Accumulator).Mean, nil
	case MetricStdDev:
		return (*Accumulator).StdDev, nil
	case MetricP25:
		return percentileFunc(0.25), nil
	case MetricP50:
		return percentileFunc(0.50), nil
	case MetricP75:
		return percentileFunc(0.75), nil
	case MetricP95:
		return percentileFunc(0.95), nil
	case MetricCover:
		return (*Accumulator).Cover, nil
	case MetricMax:
		return (*Accumulator).Max, nil
	}
	return nil, fmt.Errorf("unknown metric %q: %w", name, raster.ErrConfiguration)
}

func percentileFunc(q float64) func(*Accumulator) (float64, bool) {
	return func(a *Accumulator) (float64, bool) { return a.Percentile(q) }
}

// gridState is the gob-visible form of a StatsGrid.
type gridState struct {
	Alignment    raster.Alignment
	CanopyCutoff float64
	Max          float64
	BinWidth     float64
	Cells        map[int]state
}

// Encode serializes the grid with gob encoding and gzip compression.
func (g *StatsGrid) Encode() ([]byte, error) {
	st := gridState{
		Alignment:    g.Alignment,
		CanopyCutoff: g.cfg.canopyCutoff,
		Max:          g.cfg.max,
		BinWidth:     g.cfg.binWidth,
		Cells:        make(map[int]state),
	}
	for i, acc := range g.cells {
		if acc != nil {
			st.Cells[i] = acc.snapshot()
		}
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(st); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeStatsGrid restores a grid produced by Encode. The blob's histogram
// binning must match cfg.
func DecodeStatsGrid(blob []byte, cfg *HistogramConfig) (*StatsGrid, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %v: %w", err, raster.ErrData)
	}
	defer gz.Close()
	var st gridState
	if err := gob.NewDecoder(gz).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode stats grid: %v: %w", err, raster.ErrData)
	}
	if st.CanopyCutoff != cfg.canopyCutoff || st.Max != cfg.max || st.BinWidth != cfg.binWidth {
		return nil, fmt.Errorf("stats grid binning differs from run configuration: %w", raster.ErrConfiguration)
	}
	g := NewStatsGrid(st.Alignment, cfg)
	for i, s := range st.Cells {
		if i < 0 || i >= len(g.cells) {
			return nil, fmt.Errorf("stats grid cell %d out of range: %w", i, raster.ErrData)
		}
		acc, err := restoreAccumulator(cfg, s)
		if err != nil {
			return nil, err
		}
		g.cells[i] = acc
	}
	return g, nil
}
