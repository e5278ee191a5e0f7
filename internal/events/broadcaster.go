package events

import (
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscription channel capacity. Publishing
// never blocks: when a subscriber falls this far behind, newer events for
// it are dropped with a warning.
const subscriberBuffer = 16

// Broadcaster republishes job lifecycle events to subscribers partitioned
// by job id. Subscriptions are process-local, in-memory routing state:
// they are lost on restart and subscribers must re-subscribe.
type Broadcaster struct {
	mu sync.RWMutex

	// subscriptions maps job id -> subscriber id -> delivery channel.
	subscriptions map[string]map[string]chan Event

	logger *slog.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subscriptions: make(map[string]map[string]chan Event),
		logger:        logger.With("component", "event_broadcaster"),
	}
}

// Subscribe binds the subscriber to the job id and returns the channel its
// events arrive on. Events for one job id are delivered to each subscriber
// in publish order. Subscribing twice with the same pair returns the
// existing channel.
func (b *Broadcaster) Subscribe(subscriberID, jobID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscriptions[jobID]
	if !ok {
		subs = make(map[string]chan Event)
		b.subscriptions[jobID] = subs
	}

	if ch, ok := subs[subscriberID]; ok {
		return ch
	}

	ch := make(chan Event, subscriberBuffer)
	subs[subscriberID] = ch

	b.logger.Debug("subscriber bound",
		"subscriber_id", subscriberID,
		"job_id", jobID,
		"subscriber_count", len(subs))

	return ch
}

// Unsubscribe removes only this subscriber's binding to the job id and
// closes its channel. Other subscribers and the job itself are unaffected.
func (b *Broadcaster) Unsubscribe(subscriberID, jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscriptions[jobID]
	if !ok {
		return
	}

	ch, ok := subs[subscriberID]
	if !ok {
		return
	}

	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(b.subscriptions, jobID)
	}
	close(ch)
}

// UnsubscribeAll removes every binding held by the subscriber. Used when a
// transport connection disconnects.
func (b *Broadcaster) UnsubscribeAll(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for jobID, subs := range b.subscriptions {
		if ch, ok := subs[subscriberID]; ok {
			delete(subs, subscriberID)
			if len(subs) == 0 {
				delete(b.subscriptions, jobID)
			}
			close(ch)
		}
	}
}

// Publish delivers the event to every subscriber currently bound to its
// job id and to no others. Delivery order across subscribers is
// unspecified; per subscriber it is FIFO. A full subscriber buffer drops
// the event for that subscriber rather than blocking the publisher.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.subscriptions[event.JobID]
	if !ok {
		return
	}

	for subscriberID, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				"subscriber_id", subscriberID,
				"job_id", event.JobID,
				"event_kind", event.Kind)
		}
	}
}

// Send delivers an event to one specific subscriber of the job id,
// bypassing fan-out. Used for the snapshot pushed right after subscribe.
// Returns false when the binding does not exist or the buffer is full.
func (b *Broadcaster) Send(subscriberID, jobID string, event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.subscriptions[jobID]
	if !ok {
		return false
	}
	ch, ok := subs[subscriberID]
	if !ok {
		return false
	}

	select {
	case ch <- event:
		return true
	default:
		b.logger.Warn("subscriber buffer full, dropping snapshot",
			"subscriber_id", subscriberID,
			"job_id", jobID)
		return false
	}
}

// SubscriberCount returns how many subscribers are bound to the job id.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[jobID])
}
