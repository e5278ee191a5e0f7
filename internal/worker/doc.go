// Package worker provides the consuming side of the job queue: a handler
// registry keyed by job type, a bounded-concurrency pool that claims and
// executes jobs, and the built-in job handlers.
//
// Handler errors drive the broker's retry path unless marked permanent
// with Permanent, in which case the job fails immediately.
package worker
