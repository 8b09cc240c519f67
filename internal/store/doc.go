// Package store provides SQLite-backed storage for lowering runs.
//
// The store keeps three tables:
//   - pipeline_runs: one row per pipeline invocation, with the lowered IR
//     of successful runs
//   - pass_stats: rewrite counts per pass of a run
//   - loaded_modules: every module handed to the execution engine
//
// # Ordering
//
// Rows are ordered by seq, a logical clock resumed from the database on
// Open. Queries use ORDER BY seq ASC, id COLLATE BINARY ASC so listings are
// deterministic.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
