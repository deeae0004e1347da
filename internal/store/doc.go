// Package store provides SQLite-backed durable storage for stablecall.
//
// The store holds four tables:
//   - modules: deployed Logic Module specs, keyed by content-addressed ref
//   - proxies: deployed Delegated Proxy addresses
//   - slots: each proxy's Storage Frame, one row per written slot
//   - events: the append-only audit log
//
// # Atomicity
//
// Every forwarded call and every upgrade runs inside one Update transaction.
// Slot writes and the audit events they produce commit together or not at
// all; a failing call leaves the frame byte-for-byte unchanged.
//
// # Ordering
//
// Events are ordered by seq INTEGER (assigned by SQLite on insert), NEVER timestamps.
// All list queries include an ORDER BY so results are identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: SQLite has a single writer
//
// Because the pool holds one connection, code running inside Update must use
// the Tx it was given; calling Store read methods from inside the callback
// would wait on the connection the transaction already holds.
package store
