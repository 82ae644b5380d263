// Package store provides durable storage for content-addressed objects,
// execution runs and domain receipts.
//
// Store is SQLite-backed and holds three tables:
//   - objects: canonical encodings keyed by content id (artifacts,
//     schemas, witnesses, proofs)
//   - runs: finalized traces keyed by a UUIDv7 run id
//   - receipts: submission receipts keyed by transaction id
//
// BadgerStore is an embedded key-value alternative for objects only, and
// CachedStore puts a bigcache read cache in front of either. All three
// implement compiler.BlobStore.
//
// # Critical Patterns
//
// CP-1: Content Idempotency
//   - objects.id is the content id; writes use ON CONFLICT DO NOTHING
//   - GetBlob re-hashes nothing; callers that need integrity verify ids
//     after decoding
//
// CP-2: Logical Order
//   - Every table carries seq INTEGER assigned on insert
//   - Run ids are UUIDv7 but never enter content hashes or ordering
//
// CP-4: Deterministic Query Results
//   - Listing queries are built as queryir.Select values, checked against
//     Tables and compiled by querysql, which always orders by seq
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
