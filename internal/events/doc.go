// Package events provides job lifecycle event types and an in-process
// broadcaster that fans them out to subscribers partitioned by job id.
//
// Events are notifications only: they carry no authority over job state,
// and a subscriber observing an event must read the job record for the
// authoritative view. Subscriptions are process-local routing state and
// are lost on restart.
package events
