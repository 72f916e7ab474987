// Package events implements a pub-sub bus that republishes CocoTable's
// applier/tear actions for live diagnostic consumers, without weakening
// the single-writer invariant: the bus only observes writes the consumer
// thread already made.
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/request"
	"github.com/resourcetuner/resourcetuner/pkg/tuner/resource"
)

// Action distinguishes an applier write from a tear-hook restore.
type Action int

const (
	Applied Action = iota
	Torn
)

func (a Action) String() string {
	if a == Applied {
		return "Applied"
	}
	return "Torn"
}

// AppliedEvent is published whenever CocoTable's consumer thread writes
// or restores a resource value.
type AppliedEvent struct {
	Action       Action
	ResourceCode resource.Code
	SubIndex     int32
	Value        int32
	Priority     request.Priority
}

// Subscriber represents a client subscribed to applied events.
type Subscriber struct {
	ID     string
	Events chan *AppliedEvent
}

// Broadcaster manages subscribers and distributes applied events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe creates a new subscription for applied events. Used by
// pkg/tunerd's internal consumer that fills the Dump ring buffer.
func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Events: make(chan *AppliedEvent, 100),
	}

	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish sends an event to every current subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the caller.
func (b *Broadcaster) Publish(evt *AppliedEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		select {
		case sub.Events <- evt:
		default:
			// Channel full, event dropped.
		}
	}
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.Events)
	}
	b.subscribers = make(map[string]*Subscriber)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
