// Package queue implements the job queue broker: durable named queues of
// prioritized jobs over a pluggable external store, with idempotent
// enqueue, exclusive lease-based claims, retry scheduling with backoff,
// and once-only worker registration per queue name.
//
// The broker owns all job state transitions; workers report outcomes
// through the broker and never write job state directly.
package queue
