// Package postgres provides the PostgreSQL-backed implementation of the
// queue.JobStore interface, plus embedded schema migrations. Claims rely
// on FOR UPDATE SKIP LOCKED so concurrent workers never double-claim, and
// enqueue idempotency maps onto a conditional upsert over the primary key.
package postgres
