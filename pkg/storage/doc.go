// Package storage provides the SQL implementation of the later storage contract.
//
// GormStorage keeps three tables:
//   - kv_entries: packed key, value, versionstamp and optional expiry
//   - kv_messages: the delayed-message channel with lease columns
//   - kv_meta: a single row holding the global version counter
//
// Every commit bumps the kv_meta row first. The row lock serializes
// committers, so checks and writes in one AtomicOperation see a stable view
// on PostgreSQL as well as SQLite.
//
// The Redis implementation lives in pkg/storage/redis. Both satisfy
// core.Storage.
package storage
