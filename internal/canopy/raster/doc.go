// Package raster owns the grid data model shared by every canopy layer.
//
// Responsibilities: alignment (origin, cell size, extent, CRS tag), generic
// optionally-valued rasters, lattice-aware windowing and folding, bilinear
// sampling, and the gob+gzip blob codec used for scratch and output files.
//
// Dependency rule: raster depends on nothing else in internal/canopy.
package raster
