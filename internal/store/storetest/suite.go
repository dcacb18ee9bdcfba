package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	conditionID := "c-" + uuid.New().String()
	messageID := "m-" + uuid.New().String()

	hours := 24
	last := now.Add(-time.Hour)

	// Conditions: create + lookups
	c := &model.Condition{
		ConditionID:       conditionID,
		MessageID:         messageID,
		OwnerID:           "owner-1",
		Kind:              model.TriggerNoCheckIn,
		LastChecked:       &last,
		HoursThreshold:    &hours,
		ReminderLeadTimes: []int{60, 15},
		Recipients:        []string{"r1", "r2"},
	}
	created, err := s.Conditions().Create(ctx, c)
	if err != nil {
		t.Fatalf("CreateCondition: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("new condition version: got %d", created.Version)
	}
	if got, err := s.Conditions().Get(ctx, conditionID); err != nil || got.MessageID != messageID {
		t.Fatalf("GetCondition: got=%v err=%v", got, err)
	}
	if got, err := s.Conditions().GetByMessage(ctx, messageID); err != nil || got.ConditionID != conditionID {
		t.Fatalf("GetByMessage: got=%v err=%v", got, err)
	}
	if got, _ := s.Conditions().Get(ctx, conditionID); len(got.ReminderLeadTimes) != 2 || len(got.Recipients) != 2 {
		t.Fatalf("lead times / recipients not round-tripped: %+v", got)
	}
	if _, err := s.Conditions().Get(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Optimistic update: stale version loses with ErrConflict
	created.Active = true
	updated, err := s.Conditions().Update(ctx, created)
	if err != nil {
		t.Fatalf("UpdateCondition: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("version after update: got %d", updated.Version)
	}
	stale := *created // still version 1
	stale.Active = false
	if _, err := s.Conditions().Update(ctx, &stale); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}

	if lst, err := s.Conditions().ListActive(ctx); err != nil || len(lst) == 0 {
		t.Fatalf("ListActive: n=%d err=%v", len(lst), err)
	}

	// Schedules: bulk insert
	mkEntry := func(kind model.EntryKind, at time.Time) *model.ScheduleEntry {
		return &model.ScheduleEntry{
			EntryID:     uuid.New().String(),
			MessageID:   messageID,
			ConditionID: conditionID,
			ScheduledAt: at,
			Kind:        kind,
			Status:      model.StatusPending,
			Priority:    model.PriorityNormal,
			Retry:       model.RetryStandard,
		}
	}
	rem := mkEntry(model.EntryReminder, now.Add(-2*time.Minute))
	fin := mkEntry(model.EntryFinalDelivery, now.Add(-time.Minute))
	if err := s.Schedules().Insert(ctx, []*model.ScheduleEntry{rem, fin}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if lst, err := s.Schedules().ListByMessage(ctx, messageID); err != nil || len(lst) != 2 {
		t.Fatalf("ListByMessage: n=%d err=%v", len(lst), err)
	}
	if got, err := s.Schedules().Get(ctx, rem.EntryID); err != nil || got.Kind != model.EntryReminder {
		t.Fatalf("GetEntry: got=%v err=%v", got, err)
	}
	if lf, err := s.Schedules().LiveFinal(ctx, messageID); err != nil || lf == nil || lf.EntryID != fin.EntryID {
		t.Fatalf("LiveFinal: got=%v err=%v", lf, err)
	}

	// ClaimDue picks up both, stamps last_attempt_at, moves to processing
	claimed, err := s.Schedules().ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("ClaimDue: expected 2 claims, got %d", len(claimed))
	}
	for _, e := range claimed {
		if e.Status != model.StatusProcessing || e.LastAttemptAt == nil {
			t.Fatalf("claimed entry not locked: %+v", e)
		}
	}
	// Claimed entries are not claimable again
	if again, err := s.Schedules().ClaimDue(ctx, now, 10); err != nil || len(again) != 0 {
		t.Fatalf("second claim should be empty: n=%d err=%v", len(again), err)
	}

	// Complete sent/failed
	if err := s.Schedules().Complete(ctx, rem.EntryID, model.StatusSent); err != nil {
		t.Fatalf("Complete sent: %v", err)
	}
	if err := s.Schedules().Complete(ctx, fin.EntryID, model.StatusFailed); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := s.Schedules().Complete(ctx, rem.EntryID, model.StatusSent); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("double complete: expected ErrNotFound, got %v", err)
	}
	if lst, err := s.Schedules().ListByStatus(ctx, model.StatusFailed, 10); err != nil || len(lst) != 1 {
		t.Fatalf("ListByStatus failed: n=%d err=%v", len(lst), err)
	}

	// Replace marks prior live entries obsolete and installs the new plan
	rem2 := mkEntry(model.EntryReminder, now.Add(30*time.Minute))
	fin2 := mkEntry(model.EntryFinalDelivery, now.Add(time.Hour))
	if err := s.Schedules().Insert(ctx, []*model.ScheduleEntry{mkEntry(model.EntryFinalDelivery, now.Add(time.Minute))}); err != nil {
		t.Fatalf("Insert pre-replace: %v", err)
	}
	if err := s.Schedules().Replace(ctx, messageID, []*model.ScheduleEntry{rem2, fin2}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	finals := 0
	lst, err := s.Schedules().ListByMessage(ctx, messageID)
	if err != nil {
		t.Fatalf("ListByMessage after replace: %v", err)
	}
	for _, e := range lst {
		if e.Kind == model.EntryFinalDelivery && e.Status != model.StatusObsolete && e.Status != model.StatusFailed && e.Status != model.StatusSent {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one live final delivery after replace, got %d", finals)
	}

	// MarkObsolete retires the remaining live plan
	if n, err := s.Schedules().MarkObsolete(ctx, messageID); err != nil || n != 2 {
		t.Fatalf("MarkObsolete: n=%d err=%v", n, err)
	}
	if lf, err := s.Schedules().LiveFinal(ctx, messageID); err != nil {
		t.Fatalf("LiveFinal after obsolete: %v", err)
	} else if lf != nil && lf.Status != model.StatusFailed && lf.Status != model.StatusSent {
		t.Fatalf("unexpected live final after obsolete: %+v", lf)
	}

	// ResetStuck: a stale processing entry returns to pending
	stuck := mkEntry(model.EntryReminder, now.Add(-time.Minute))
	if err := s.Schedules().Insert(ctx, []*model.ScheduleEntry{stuck}); err != nil {
		t.Fatalf("Insert stuck: %v", err)
	}
	if _, err := s.Schedules().ClaimDue(ctx, now, 1); err != nil {
		t.Fatalf("claim stuck: %v", err)
	}
	if n, err := s.Schedules().ResetStuck(ctx, now.Add(time.Minute)); err != nil || n != 1 {
		t.Fatalf("ResetStuck: n=%d err=%v", n, err)
	}
	if got, err := s.Schedules().Get(ctx, stuck.EntryID); err != nil || got.Status != model.StatusPending {
		t.Fatalf("stuck entry not reset: got=%v err=%v", got, err)
	}
}

// RunClaimExclusivity verifies that concurrent claimers never both receive
// the same entry.
func RunClaimExclusivity(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const total = 20
	messageID := "m-" + uuid.New().String()
	var entries []*model.ScheduleEntry
	for i := 0; i < total; i++ {
		entries = append(entries, &model.ScheduleEntry{
			EntryID:     uuid.New().String(),
			MessageID:   messageID,
			ConditionID: "c-claim",
			ScheduledAt: now.Add(-time.Minute),
			Kind:        model.EntryReminder,
			Status:      model.StatusPending,
			Priority:    model.PriorityNormal,
			Retry:       model.RetryStandard,
		})
	}
	if err := s.Schedules().Insert(ctx, entries); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	const workers = 4
	results := make([][]*model.ScheduleEntry, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				claimed, err := s.Schedules().ClaimDue(ctx, now, 3)
				if err != nil {
					t.Errorf("ClaimDue: %v", err)
					return
				}
				if len(claimed) == 0 {
					return
				}
				results[i] = append(results[i], claimed...)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	n := 0
	for _, batch := range results {
		for _, e := range batch {
			if seen[e.EntryID] {
				t.Fatalf("entry %s claimed twice", e.EntryID)
			}
			seen[e.EntryID] = true
			n++
		}
	}
	if n != total {
		t.Fatalf("expected %d total claims, got %d", total, n)
	}
}
