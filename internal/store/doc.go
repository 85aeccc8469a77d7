// Package store provides SQLite-backed durable storage for flush journals
// and a key-value table written through units of work.
//
// Tables:
//   - flush_journal: one row per unit flush, keyed by (operation_id, seq)
//   - kv: key/value pairs written by Batch
//
// Journal rows are read back in seq order. Seq comes from the controller's
// logical clock, so the order reflects when each flush reported, across lanes.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Values in kv are stored as canonical JSON (internal/canonical).
package store
