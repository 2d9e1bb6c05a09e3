// Package l1points owns Layer 1 (Points) of the canopy data model.
//
// Responsibilities: the transient Point tuple, the PointCloudSource and
// Reader interfaces consumed by the pipeline, filter predicates, and a
// CloudCompare-style ASCII reader. Binary formats (LAS/LAZ) are decoded by
// external collaborators that implement Source.
//
// Dependency rule: L1 depends only on internal/canopy/raster.
package l1points
