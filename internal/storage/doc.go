// Package storage persists scheduled jobs.
//
// It currently supports:
//   - A file backend: jobs sharded into one JSON file per calendar day,
//     written atomically (temp file + rename).
//   - A relational backend over database/sql: SQLite for single-host
//     deployments, Postgres when several processes share one job set.
//
// All backends implement the same Store contract; the scheduler does not
// care which one it got.
package storage
