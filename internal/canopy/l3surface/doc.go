// Package l3surface owns Layer 3 (Surface) of the canopy data model.
//
// Responsibilities: rasterising normalised points into a canopy surface
// model with footprint spreading (Builder), max-folding per-file products,
// and the closed set of refinement passes (Identity, Smooth, Fill,
// SmoothAndFill) selected by name at configuration time.
package l3surface
