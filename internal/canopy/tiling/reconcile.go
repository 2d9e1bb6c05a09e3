package tiling

import (
	"math"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Remap rewrites local basin IDs to their final IDs.
type Remap map[int64]int64

// KeyOf snaps a map coordinate to a MarkerKey on a lattice of the given
// cell size, so markers at coincident coordinates in different tiles share
// a key.
func KeyOf(x, y, cellSize float64) MarkerKey {
	return MarkerKey{
		Col: int64(math.Floor(x / cellSize)),
		Row: int64(math.Floor(y / cellSize)),
	}
}

// TileMarkers lists one tile's markers by key with their local IDs.
type TileMarkers struct {
	Tile    int
	Markers map[MarkerKey]int64
}

// Reconcile builds, for each tile, the remap of local IDs whose marker was
// claimed by a lower-indexed tile. It runs serially over claims that were
// collected concurrently; tiles with nothing to rewrite get no entry.
func Reconcile(claims *ShardedMarkers, tiles []TileMarkers) map[int]Remap {
	out := make(map[int]Remap)
	for _, tm := range tiles {
		for k, local := range tm.Markers {
			winner, ok := claims.Lookup(k)
			if !ok || winner.Tile == tm.Tile || winner.ID == local {
				continue
			}
			rm := out[tm.Tile]
			if rm == nil {
				rm = make(Remap)
				out[tm.Tile] = rm
			}
			rm[local] = winner.ID
		}
	}
	return out
}

// ApplyRemap rewrites labels in place and returns the number of cells
// changed.
func ApplyRemap(labels *raster.Raster[int64], rm Remap) int {
	if len(rm) == 0 {
		return 0
	}
	n := 0
	for i, id := range labels.Values {
		if !labels.Valid[i] {
			continue
		}
		if final, ok := rm[id]; ok {
			labels.Values[i] = final
			n++
		}
	}
	return n
}
