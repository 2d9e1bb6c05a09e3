package l2stats

import (
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// sumScale is the fixed-point scale of the canopy sum. Integer addition is
// associative, so Mean does not depend on insertion order.
const sumScale = 1e6

// MinPercentilePoints is the minimum canopy count for Percentile to report
// a value.
const MinPercentilePoints = 4

// HistogramConfig is the shared, immutable binning of every accumulator.
type HistogramConfig struct {
	canopyCutoff float64
	max          float64
	binWidth     float64
	bins         int
}

// NewHistogramConfig validates and builds a HistogramConfig.
func NewHistogramConfig(canopyCutoff, max, binWidth float64) (*HistogramConfig, error) {
	if !(binWidth > 0) {
		return nil, fmt.Errorf("bin width must be positive, got %v: %w", binWidth, raster.ErrConfiguration)
	}
	if !(max > canopyCutoff) {
		return nil, fmt.Errorf("histogram max %v must exceed canopy cutoff %v: %w", max, canopyCutoff, raster.ErrConfiguration)
	}
	return &HistogramConfig{
		canopyCutoff: canopyCutoff,
		max:          max,
		binWidth:     binWidth,
		bins:         int(math.Ceil((max - canopyCutoff) / binWidth)),
	}, nil
}

// CanopyCutoff returns the height at and above which a return counts as canopy.
func (c *HistogramConfig) CanopyCutoff() float64 { return c.canopyCutoff }

// Max returns the top of the histogram range.
func (c *HistogramConfig) Max() float64 { return c.max }

// BinWidth returns the histogram bin width.
func (c *HistogramConfig) BinWidth() float64 { return c.binWidth }

// Bins returns the number of histogram bins.
func (c *HistogramConfig) Bins() int { return c.bins }

// binOf returns the bin for a canopy height, clamped to the last bin.
func (c *HistogramConfig) binOf(h float64) int {
	b := int(math.Floor((h - c.canopyCutoff) / c.binWidth))
	if b < 0 {
		return 0
	}
	if b >= c.bins {
		return c.bins - 1
	}
	return b
}

func (c *HistogramConfig) binLow(b int) float64 { return c.canopyCutoff + float64(b)*c.binWidth }

// Accumulator summarises the heights of the points falling in one cell.
// The histogram is allocated on the first canopy point.
type Accumulator struct {
	cfg         *HistogramConfig
	count       uint64
	canopyCount uint64
	canopySum   int64
	hist        []uint32
}

// NewAccumulator returns an empty accumulator bound to cfg.
func NewAccumulator(cfg *HistogramConfig) *Accumulator {
	return &Accumulator{cfg: cfg}
}

// Config returns the accumulator's histogram configuration.
func (a *Accumulator) Config() *HistogramConfig { return a.cfg }

// AddPoint records one height above ground. Heights below the canopy
// cutoff only increment the total count.
func (a *Accumulator) AddPoint(height float64) {
	a.count++
	if height < a.cfg.canopyCutoff {
		return
	}
	if a.hist == nil {
		a.hist = make([]uint32, a.cfg.bins)
	}
	a.canopyCount++
	a.canopySum += int64(math.Round(height * sumScale))
	a.hist[a.cfg.binOf(height)]++
}

// Merge folds other into a. Both must share the same HistogramConfig.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other == nil {
		return nil
	}
	if a.cfg != other.cfg && *a.cfg != *other.cfg {
		return fmt.Errorf("merge accumulators with different histogram configs: %w", raster.ErrConfiguration)
	}
	a.count += other.count
	a.canopyCount += other.canopyCount
	a.canopySum += other.canopySum
	if other.hist != nil {
		if a.hist == nil {
			a.hist = make([]uint32, a.cfg.bins)
		}
		for i, n := range other.hist {
			a.hist[i] += n
		}
	}
	return nil
}

// Count returns the number of points seen.
func (a *Accumulator) Count() uint64 { return a.count }

// CanopyCount returns the number of points at or above the canopy cutoff.
func (a *Accumulator) CanopyCount() uint64 { return a.canopyCount }

// Mean returns the mean canopy height.
func (a *Accumulator) Mean() (float64, bool) {
	if a.canopyCount == 0 {
		return 0, false
	}
	return float64(a.canopySum) / sumScale / float64(a.canopyCount), true
}

// StdDev returns the sample standard deviation of canopy heights, treating
// every point as if it sat at its bin midpoint. This is an approximation
// whose error is bounded by the bin width.
func (a *Accumulator) StdDev() (float64, bool) {
	if a.canopyCount < 2 {
		return 0, false
	}
	mean, _ := a.Mean()
	var ss float64
	for b, n := range a.hist {
		if n == 0 {
			continue
		}
		mid := a.cfg.binLow(b) + a.cfg.binWidth/2
		d := mid - mean
		ss += float64(n) * d * d
	}
	return math.Sqrt(ss / float64(a.canopyCount-1)), true
}

// Percentile returns the q-th quantile (0 < q < 1) of canopy heights.
//
// The crossing bin is the first whose running total exceeds q*canopyCount.
// Values are interpolated linearly inside that bin. When the threshold is
// already met at the bin's leading edge, the result is the top of the last
// previous bin that held data, so empty gaps are never extrapolated into.
func (a *Accumulator) Percentile(q float64) (float64, bool) {
	if a.canopyCount < MinPercentilePoints || !(q > 0 && q < 1) {
		return 0, false
	}
	threshold := q * float64(a.canopyCount)
	var running uint64
	prevData := -1
	for b, n := range a.hist {
		if n == 0 {
			continue
		}
		lead := running
		running += uint64(n)
		if float64(running) <= threshold {
			prevData = b
			continue
		}
		if float64(lead) >= threshold && prevData >= 0 {
			return a.cfg.binLow(prevData) + a.cfg.binWidth, true
		}
		frac := (threshold - float64(lead)) / float64(n)
		return a.cfg.binLow(b) + frac*a.cfg.binWidth, true
	}
	// Unreachable for q < 1; keep the top of the last occupied bin.
	if prevData >= 0 {
		return a.cfg.binLow(prevData) + a.cfg.binWidth, true
	}
	return 0, false
}

// Cover returns the percentage of returns at or above the canopy cutoff.
func (a *Accumulator) Cover() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return float64(a.canopyCount) / float64(a.count) * 100, true
}

// Max returns the top edge of the highest occupied bin.
func (a *Accumulator) Max() (float64, bool) {
	for b := len(a.hist) - 1; b >= 0; b-- {
		if a.hist[b] > 0 {
			return a.cfg.binLow(b) + a.cfg.binWidth, true
		}
	}
	return 0, false
}

// state is the gob-visible form of an Accumulator.
type state struct {
	Count       uint64
	CanopyCount uint64
	CanopySum   int64
	Hist        []uint32
}

func (a *Accumulator) snapshot() state {
	return state{Count: a.count, CanopyCount: a.canopyCount, CanopySum: a.canopySum, Hist: a.hist}
}

func restoreAccumulator(cfg *HistogramConfig, s state) (*Accumulator, error) {
	if s.Hist != nil && len(s.Hist) != cfg.bins {
		return nil, fmt.Errorf("accumulator has %d bins, config has %d: %w", len(s.Hist), cfg.bins, raster.ErrData)
	}
	return &Accumulator{cfg: cfg, count: s.Count, canopyCount: s.CanopyCount, canopySum: s.CanopySum, hist: s.Hist}, nil
}
