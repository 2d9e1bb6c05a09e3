// Package pipeline runs the two-phase canopy workflow.
//
// Phase 1 processes each input file on its own: points are filtered,
// normalised to heights above ground, accumulated into a statistics grid
// and rasterised into a surface model, and both products are written to
// scratch storage. After a barrier, phase 2 builds each output tile from
// every overlapping per-file product plus a buffer, refines the surface,
// detects trees, floods their basins and crops the results to the tile.
// A final serial pass reconciles basin IDs shared across tile edges.
//
// Output rasters do not depend on the number of workers.
package pipeline
