package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
	"github.com/everkeep/everkeep/server/internal/store/memstore"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubDispatcher struct {
	mu        sync.Mutex
	reminders int
	finals    int
	fail      bool
	block     bool
}

func (d *stubDispatcher) RemindOwner(ctx context.Context, ownerRef, messageRef string) error {
	return d.call(ctx, func() { d.reminders++ })
}

func (d *stubDispatcher) DeliverFinal(ctx context.Context, recipientRefs []string, messageRef string) error {
	return d.call(ctx, func() { d.finals++ })
}

func (d *stubDispatcher) call(ctx context.Context, record func()) error {
	if d.block {
		<-ctx.Done()
		return ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return model.ErrDispatchFailure
	}
	record()
	return nil
}

func (d *stubDispatcher) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reminders, d.finals
}

func seedCondition(t *testing.T, s store.Store, active bool) *model.Condition {
	t.Helper()
	c, err := s.Conditions().Create(context.Background(), &model.Condition{
		ConditionID: uuid.New().String(),
		MessageID:   "msg-" + uuid.New().String(),
		OwnerID:     "owner-1",
		Kind:        model.TriggerNoCheckIn,
		Recipients:  []string{"r1"},
	})
	if err != nil {
		t.Fatalf("seed condition: %v", err)
	}
	if active {
		c.Active = true
		if c, err = s.Conditions().Update(context.Background(), c); err != nil {
			t.Fatalf("activate condition: %v", err)
		}
	}
	return c
}

func seedEntry(t *testing.T, s store.Store, c *model.Condition, kind model.EntryKind, retry model.RetryStrategy, attempts int) *model.ScheduleEntry {
	t.Helper()
	e := &model.ScheduleEntry{
		EntryID:     uuid.New().String(),
		MessageID:   c.MessageID,
		ConditionID: c.ConditionID,
		ScheduledAt: t0.Add(-time.Minute),
		Kind:        kind,
		Status:      model.StatusPending,
		Priority:    model.PriorityNormal,
		Retry:       retry,
		Attempts:    attempts,
	}
	if err := s.Schedules().Insert(context.Background(), []*model.ScheduleEntry{e}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return e
}

func newWorker(s store.Store, d *stubDispatcher, bus *events.Bus) *Worker {
	return NewWorker(s, d, bus, Config{
		BatchSize:       10,
		Interval:        time.Second,
		Parallelism:     4,
		DispatchTimeout: 50 * time.Millisecond,
		RetryDelay:      30 * time.Second,
		MaxAttempts:     3,
	}, zerolog.Nop()).WithClock(func() time.Time { return t0 })
}

func entryStatus(t *testing.T, s store.Store, entryID string) model.EntryStatus {
	t.Helper()
	e, err := s.Schedules().Get(context.Background(), entryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	return e.Status
}

func TestWorker_DispatchesReminderAndFinal(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{}
	w := newWorker(s, d, nil)

	c := seedCondition(t, s, true)
	rem := seedEntry(t, s, c, model.EntryReminder, model.RetryStandard, 0)
	fin := seedEntry(t, s, c, model.EntryFinalDelivery, model.RetryStandard, 0)

	n, err := w.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 handled entries, got %d", n)
	}
	if got := entryStatus(t, s, rem.EntryID); got != model.StatusSent {
		t.Fatalf("reminder status: %s", got)
	}
	if got := entryStatus(t, s, fin.EntryID); got != model.StatusSent {
		t.Fatalf("final status: %s", got)
	}
	if r, f := d.counts(); r != 1 || f != 1 {
		t.Fatalf("dispatch counts: reminders=%d finals=%d", r, f)
	}

	// Delivered message closes the cycle.
	got, _ := s.Conditions().Get(context.Background(), c.ConditionID)
	if got.Active {
		t.Fatalf("condition must be disarmed after final delivery")
	}
}

func TestWorker_NothingDue(t *testing.T) {
	s := memstore.New()
	w := newWorker(s, &stubDispatcher{}, nil)
	n, err := w.ProcessOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected idle cycle, n=%d err=%v", n, err)
	}
}

func TestWorker_StandardFailureNotRequeued(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{fail: true}
	w := newWorker(s, d, nil)

	c := seedCondition(t, s, true)
	e := seedEntry(t, s, c, model.EntryReminder, model.RetryStandard, 0)

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if got := entryStatus(t, s, e.EntryID); got != model.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if pend, _ := s.Schedules().ListByStatus(context.Background(), model.StatusPending, 10); len(pend) != 0 {
		t.Fatalf("standard failures must not auto-requeue, found %d pending", len(pend))
	}
}

func TestWorker_AggressiveFailureRequeued(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{fail: true}
	w := newWorker(s, d, nil)

	c := seedCondition(t, s, true)
	e := seedEntry(t, s, c, model.EntryFinalDelivery, model.RetryAggressive, 0)

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if got := entryStatus(t, s, e.EntryID); got != model.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	pend, _ := s.Schedules().ListByStatus(context.Background(), model.StatusPending, 10)
	if len(pend) != 1 {
		t.Fatalf("expected one re-enqueued entry, got %d", len(pend))
	}
	if pend[0].Attempts != 1 || !pend[0].ScheduledAt.Equal(t0.Add(30*time.Second)) {
		t.Fatalf("bad requeue: %+v", pend[0])
	}
}

func TestWorker_AggressiveRetryBounded(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{fail: true}
	w := newWorker(s, d, nil)

	c := seedCondition(t, s, true)
	// Final permitted attempt: no further requeue after this failure.
	seedEntry(t, s, c, model.EntryFinalDelivery, model.RetryAggressive, 2)

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if pend, _ := s.Schedules().ListByStatus(context.Background(), model.StatusPending, 10); len(pend) != 0 {
		t.Fatalf("retry budget exhausted entry must not requeue, found %d pending", len(pend))
	}
	failed, _ := s.Schedules().ListByStatus(context.Background(), model.StatusFailed, 10)
	if len(failed) != 1 {
		t.Fatalf("expected terminal failed entry for operator attention, got %d", len(failed))
	}
}

func TestWorker_InactiveConditionFails(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{}
	w := newWorker(s, d, nil)

	c := seedCondition(t, s, false)
	e := seedEntry(t, s, c, model.EntryFinalDelivery, model.RetryStandard, 0)

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if got := entryStatus(t, s, e.EntryID); got != model.StatusFailed {
		t.Fatalf("expected failed for disarmed condition, got %s", got)
	}
	if _, f := d.counts(); f != 0 {
		t.Fatalf("disarmed condition must not be delivered")
	}
}

func TestWorker_SlowDispatchTimesOut(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{block: true}
	w := newWorker(s, d, nil)

	c := seedCondition(t, s, true)
	e := seedEntry(t, s, c, model.EntryReminder, model.RetryStandard, 0)

	start := time.Now()
	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("slow dispatch stalled the cycle: %v", elapsed)
	}
	if got := entryStatus(t, s, e.EntryID); got != model.StatusFailed {
		t.Fatalf("timed-out dispatch must be failed, got %s", got)
	}
}

func TestWorker_PublishesDeliveredEvent(t *testing.T) {
	s := memstore.New()
	d := &stubDispatcher{}
	bus := events.NewBus(8)
	defer bus.Close()
	w := newWorker(s, d, bus)

	ch, cancel := bus.Subscribe()
	defer cancel()

	c := seedCondition(t, s, true)
	seedEntry(t, s, c, model.EntryFinalDelivery, model.RetryStandard, 0)

	if _, err := w.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	select {
	case evt := <-ch:
		if evt.Action != events.ActionDelivered || evt.MessageID != c.MessageID {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no delivered event published")
	}
}
