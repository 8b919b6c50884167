// Package store persists characterization results in SQLite.
//
// Every characterized cell becomes a run:
//   - Runs: cell, kind, simulator and settings of one characterization
//   - Pins: direction, role, function and measured capacitance
//   - Timing tables: index axes and row-major values per arc and kind
//   - Harnesses: every simulated stimulus with its average delay, and
//     whether its results went into the tables
//
// Run ids are UUIDv7 and runs are ordered by a per-database sequence
// number, never by wall-clock time. Reads return rows in insertion order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
