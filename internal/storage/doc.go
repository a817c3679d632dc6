// Package storage persists per-account monitor state (cursor, display name,
// last check time) so a restart does not re-bootstrap every account.
//
// Drivers:
//   - "file": JSON snapshot plus an append-only journal
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
package storage
