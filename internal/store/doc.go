// Package store persists participants and the reservations made for them.
//
// Two implementations satisfy [Repository]:
//
//   - [MemoryStore]: in-process maps, used by tests and the example
//   - [SQLStore]: SQLite (mattn/go-sqlite3) or Postgres (pgx) through database/sql
//
// Both implement MarkClaimed as a conditional transition: only a pending
// participant becomes claimed, and the reservation is stored in the same
// step. A participant that is no longer pending yields [domain.ErrNotPending].
package store
