// Package l2stats owns the streaming per-cell height statistics.
//
// Responsibilities: the histogram accumulator (mean, stddev, percentiles,
// cover), commutative merging of accumulators, and StatsGrid which maps an
// accumulator onto every raster cell and renders named metric rasters.
//
// All accumulators compared against each other must share one immutable
// HistogramConfig; it is passed by pointer at construction.
package l2stats
