// Package storage persists organization state, durable timers, admin content
// and the invocation journal.
//
// Drivers:
//   - memory: maps in process
//   - file: JSON snapshot plus a JSON Lines invocation journal
//   - sqlite: modernc.org/sqlite, schema in migrations.sql
package storage
