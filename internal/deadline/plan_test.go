package deadline

import (
	"testing"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
)

func planCondition(leads ...int) *model.Condition {
	return &model.Condition{
		ConditionID:       "c1",
		MessageID:         "m1",
		Kind:              model.TriggerNoCheckIn,
		ReminderLeadTimes: leads,
	}
}

func finalsOf(entries []*model.ScheduleEntry) []*model.ScheduleEntry {
	var out []*model.ScheduleEntry
	for _, e := range entries {
		if e.Kind == model.EntryFinalDelivery {
			out = append(out, e)
		}
	}
	return out
}

func TestBuildPlan_FutureDeadline(t *testing.T) {
	dl := now.Add(24 * time.Hour)
	entries := BuildPlan(planCondition(60), dl, now)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	rem, fin := entries[0], entries[1]
	if rem.Kind != model.EntryReminder || !rem.ScheduledAt.Equal(dl.Add(-time.Hour)) {
		t.Fatalf("bad reminder: %+v", rem)
	}
	if fin.Kind != model.EntryFinalDelivery || !fin.ScheduledAt.Equal(dl) {
		t.Fatalf("bad final delivery: %+v", fin)
	}
	if rem.Status != model.StatusPending || fin.Status != model.StatusPending {
		t.Fatalf("drafts must be pending")
	}
	if fin.Priority != model.PriorityHigh || fin.Retry != model.RetryStandard {
		t.Fatalf("unexpected final attrs: %+v", fin)
	}
}

func TestBuildPlan_MultipleLeadsAscending(t *testing.T) {
	dl := now.Add(48 * time.Hour)
	entries := BuildPlan(planCondition(15, 1440, 60), dl, now)

	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].ScheduledAt.After(entries[i-1].ScheduledAt) {
			t.Fatalf("scheduled times not strictly increasing: %v then %v",
				entries[i-1].ScheduledAt, entries[i].ScheduledAt)
		}
	}
	if fins := finalsOf(entries); len(fins) != 1 {
		t.Fatalf("expected exactly one final delivery, got %d", len(fins))
	}
}

func TestBuildPlan_PastRemindersDropped(t *testing.T) {
	// Deadline 30m away; the 60m reminder would land in the past.
	dl := now.Add(30 * time.Minute)
	entries := BuildPlan(planCondition(60, 10), dl, now)

	if len(entries) != 2 {
		t.Fatalf("expected reminder(10m)+final, got %d entries", len(entries))
	}
	if !entries[0].ScheduledAt.Equal(dl.Add(-10 * time.Minute)) {
		t.Fatalf("unexpected reminder time %v", entries[0].ScheduledAt)
	}
}

func TestBuildPlan_DuplicateLeadsCollapse(t *testing.T) {
	dl := now.Add(2 * time.Hour)
	entries := BuildPlan(planCondition(30, 30), dl, now)
	if len(entries) != 2 {
		t.Fatalf("duplicate lead times must collapse, got %d entries", len(entries))
	}
}

func TestBuildPlan_OverdueCompression(t *testing.T) {
	dl := now.Add(-time.Hour)
	entries := BuildPlan(planCondition(60), dl, now)

	if len(entries) != 2 {
		t.Fatalf("expected compressed reminder+final, got %d", len(entries))
	}
	fin := entries[len(entries)-1]
	if fin.Kind != model.EntryFinalDelivery {
		t.Fatalf("last entry must be the final delivery")
	}
	if fin.ScheduledAt.Before(now) || fin.ScheduledAt.After(now.Add(30*time.Second)) {
		t.Fatalf("overdue final must land within seconds of now, got %v", fin.ScheduledAt)
	}
	for _, e := range entries {
		if e.Priority != model.PriorityCritical || e.Retry != model.RetryAggressive {
			t.Fatalf("overdue entries must be critical/aggressive: %+v", e)
		}
		if !e.ScheduledAt.After(now) {
			t.Fatalf("overdue entries must not be scheduled in the literal past")
		}
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].ScheduledAt.After(entries[i-1].ScheduledAt) {
			t.Fatalf("overdue plan times not strictly increasing")
		}
	}
}

func TestBuildPlan_OverdueWithoutLeads(t *testing.T) {
	entries := BuildPlan(planCondition(), now.Add(-time.Minute), now)
	if len(entries) != 1 || entries[0].Kind != model.EntryFinalDelivery {
		t.Fatalf("expected lone final delivery, got %+v", entries)
	}
}

func TestBuildPlan_AlwaysExactlyOneFinal(t *testing.T) {
	cases := []time.Time{
		now.Add(-24 * time.Hour),
		now.Add(-time.Second),
		now.Add(time.Second),
		now.Add(1000 * time.Hour),
	}
	for _, dl := range cases {
		entries := BuildPlan(planCondition(60, 10), dl, now)
		if fins := finalsOf(entries); len(fins) != 1 {
			t.Fatalf("deadline %v: expected one final delivery, got %d", dl, len(fins))
		}
	}
}
