package events

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	evt := Event{ConditionID: "c1", MessageID: "m1", Action: ActionArmed, Timestamp: time.Now()}
	if n := b.Publish(evt); n != 2 {
		t.Fatalf("expected delivery to 2 subscribers, got %d", n)
	}

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ConditionID != "c1" || got.Action != ActionArmed {
				t.Fatalf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive event")
		}
	}
}

func TestBus_SlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewBus(1)
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	// Buffer holds one; the second publish must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Action: ActionArmed})
		b.Publish(Event{Action: ActionDisarmed})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on slow subscriber")
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if n := b.Publish(Event{Action: ActionArmed}); n != 0 {
		t.Fatalf("expected no deliveries after cancel, got %d", n)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}
}

func TestBus_CloseIdempotent(t *testing.T) {
	b := NewBus(4)
	ch, _ := b.Subscribe()
	b.Close()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after bus close")
	}
	if n := b.Publish(Event{}); n != 0 {
		t.Fatalf("publish after close should deliver nothing")
	}
}
