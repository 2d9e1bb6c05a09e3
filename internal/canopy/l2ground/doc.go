// Package l2ground composites overlapping ground models and normalises
// point elevations to heights above ground.
//
// Overlap between models is resolved finest-resolution-wins: contributing
// models are visited in ascending cell area and each composite cell keeps
// the first value written to it. Equal cell areas keep registration order.
package l2ground
