// Package scratch stores per-file intermediate products between the file
// phase and the tile phase of a run, keeping them out of memory.
package scratch
