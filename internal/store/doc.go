// Package store provides SQLite-backed history of abxfeed runs.
//
// Each run is one row in runs plus its reassembled packets in packets,
// written in a single transaction. Writes are idempotent: saving the same
// run id twice keeps the first copy.
//
// # Ordering
//
//   - Packets are always read ORDER BY seq ASC.
//   - Runs are listed newest first: ORDER BY started_at DESC, id DESC.
//
// # Schema
//
// schema.sql holds the base tables. Later changes are migrations keyed by
// PRAGMA user_version, so a history file written by an older abxfeed is
// upgraded in place when opened. Connections run in WAL mode with foreign
// keys enforced.
package store
