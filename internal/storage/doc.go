// Package storage persists account links, group settings, poll markers and
// match history.
//
// Drivers:
//   - "sqlite": SQLite file via modernc.org/sqlite (default for deployments)
//   - "file": snapshot + JSON Lines journal, no database needed
//   - "memory": process-local, for tests and dry runs
package storage
