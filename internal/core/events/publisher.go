package events

import "context"

// Publisher enqueues an event for delivery. It never blocks the caller
// on the remote broker: delivery happens on a background worker, and
// events that exhaust retry are dropped and logged, never surfaced here.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}
