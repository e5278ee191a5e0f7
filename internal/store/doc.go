// Package store defines the low-level database access abstraction shared
// by SQL-backed storage implementations, keeping them usable with either
// a connection pool or a transaction.
package store
