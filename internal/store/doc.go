// Package store provides an opt-in SQLite trace store for pipeline runs.
//
// Tables:
//   - runs: one row per invocation (run id, manifest, mode, resolved order,
//     final status)
//   - events: the diagnostics events of each run
//
// # Ordering
//
// Rows are stamped with seq from a logical Clock, never wall time. Every
// query orders by seq ASC, id ASC, so listings are stable across reads.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: events must reference an existing run
package store
