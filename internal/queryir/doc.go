// Package queryir is a small query representation over the store's
// tables.
//
// Queries are built as values, checked against a Catalog of known tables
// and columns, and compiled by a backend (querysql for SQLite). Keeping
// the representation separate from SQL text means callers never splice
// strings: every column is checked against the catalog and every value
// is passed as a parameter.
//
// The supported fragment:
//   - Select(from, columns, filter) with an optional limit
//   - Predicates: Equals, BoundEquals, Not, And
//   - Explicit columns (no SELECT *)
//
// Excluded:
//   - NULL comparisons (every stored column is NOT NULL)
//   - Joins and subqueries
//   - Aggregation
//   - OR predicates (issue separate queries)
//
// CRITICAL PROPERTIES:
//
// CP-1: Sealed. Query and Predicate are sealed with marker methods, so
// backends can switch over them exhaustively.
//
// CP-2: Ordered results. A query does not choose its order; backends sort
// every result by the table's seq column, ascending unless Newest is set.
package queryir
