// Package l4trees owns Layer 4 (Trees) of the canopy data model.
//
// Responsibilities: detecting tree-top candidates as local maxima of a
// refined surface model, and growing one basin per accepted candidate by
// marker-controlled priority flooding. Basin IDs come from an injected
// generator so that tiles processed independently never collide.
package l4trees
