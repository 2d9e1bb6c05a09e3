// Package tiling coordinates concurrent work over an area of interest.
//
// It provides the sharded locks that guard every shared raster mutation,
// the work counter and worker pool that hand out files and tiles, the tile
// layout with its buffered extents, and the serial pass that reconciles
// basin IDs across tile boundaries.
package tiling
