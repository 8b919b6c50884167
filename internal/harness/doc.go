// Package harness describes one concrete stimulus scenario of a
// characterization trial and holds the measurements taken for it.
//
// A Harness is built from a test vector: an ordered list of per-pin values
// laid out as
//
//	[clock] [set] [reset] [flops...] inputs... outputs...
//
// where the bracketed entries exist only for sequential cells. Each entry
// is a stable level ("0" or "1"), a transition code ("01" rising, "10"
// falling), or, for the clock, a four-phase pattern such as "0101".
//
// Exactly one input and one output carry a transition code: they are the
// target pins of the harness. Every other input is held at its stable
// level; every other output floats.
//
// # Results
//
// Results are stored per sweep point in a grid addressed by SweepKey, the
// (slew index, load index) pair of the sweep. Each sweep point is written
// by exactly one trial, so trials for different keys may run concurrently
// without locking.
//
// # Selection
//
// FilterByPorts, FindByArc and WorstCase pick the harness that serves as
// the timing source for an arc: among harnesses with matching pins and
// output direction, the one with the largest average propagation delay,
// the first seen winning ties.
package harness
