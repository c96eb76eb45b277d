// Package store provides SQLite-backed durable storage for timeline runs.
//
// The store is an append-only log with two tables:
//   - sessions: one row per run (score name, tick width, seed, trace digest)
//   - events: the run's trace, one row per ir.Event
//
// # Critical Patterns
//
// Logical ordering:
//   - All ordering uses seq INTEGER, never timestamps
//   - Every event query ends in ORDER BY seq ASC
//
// Idempotency:
//   - PRIMARY KEY(session_id, seq) with ON CONFLICT DO NOTHING, so replaying
//     a recorder into the same session is harmless
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
