package raster

import "errors"

// Error classes shared by the canopy layers. Callers wrap these with
// fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrConfiguration is fatal and is returned before any work starts
	// (no ground model registered, non-positive bin width, window or
	// search distance, ...).
	ErrConfiguration = errors.New("configuration error")

	// ErrData marks an unreadable point-cloud or raster input. The run
	// skips the offending file and continues.
	ErrData = errors.New("data error")

	// ErrAlignment is returned when two rasters that must share a cell
	// lattice do not.
	ErrAlignment = errors.New("alignment mismatch")
)
