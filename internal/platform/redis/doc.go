// Package redis provides the Redis-backed implementation of the
// queue.JobStore interface. Ready and delayed jobs live in sorted sets
// scored for priority-then-FIFO ordering, active claims in a lease set,
// and enqueue idempotency maps onto a SET NX liveness marker per job id.
package redis
