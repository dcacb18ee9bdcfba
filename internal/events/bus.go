// Package events carries condition state changes from the engine to
// connected observers. It replaces ad-hoc polling with an explicit typed
// publish/subscribe surface.
package events

import (
	"sync"
	"time"
)

// Action names a condition state transition.
type Action string

const (
	ActionCreated      Action = "created"
	ActionArmed        Action = "armed"
	ActionDisarmed     Action = "disarmed"
	ActionCheckedIn    Action = "checked_in"
	ActionPanicFired   Action = "panic_fired"
	ActionReminderSent Action = "reminder_sent"
	ActionDelivered    Action = "delivered"
)

// Event announces an authoritative condition state change. Only IDs are
// carried; observers re-read full records from the server.
type Event struct {
	ConditionID string    `json:"conditionId"`
	MessageID   string    `json:"messageId"`
	Action      Action    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
}

// Bus is an in-process pub-sub hub with per-subscriber buffered channels.
// Publish never blocks: a subscriber that cannot keep up loses events and
// is expected to reconcile from an authoritative read.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	closed bool
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish fans the event out to all subscribers without blocking.
// It reports how many subscribers received it.
func (b *Bus) Publish(evt Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	n := 0
	for _, ch := range b.subs {
		select {
		case ch <- evt:
			n++
		default:
		}
	}
	return n
}

// Subscribe registers a new observer. The returned cancel function removes
// the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
