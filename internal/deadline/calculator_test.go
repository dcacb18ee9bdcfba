package deadline

import (
	"errors"
	"testing"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
)

func intp(v int) *int             { return &v }
func timep(t time.Time) *time.Time { return &t }

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNext_ScheduledFuture(t *testing.T) {
	due := now.Add(48 * time.Hour)
	c := &model.Condition{ConditionID: "c1", Kind: model.TriggerScheduled, TriggerDate: timep(due)}

	got, err := Next(c, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || !got.Equal(due) {
		t.Fatalf("expected %v, got %v", due, got)
	}
}

func TestNext_ScheduledPastStillReturned(t *testing.T) {
	due := now.Add(-time.Hour)
	c := &model.Condition{Kind: model.TriggerScheduled, TriggerDate: timep(due)}

	got, err := Next(c, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || !got.Equal(due) {
		t.Fatalf("past deadline must not be dropped, got %v", got)
	}
}

func TestNext_ScheduledWithoutDate(t *testing.T) {
	c := &model.Condition{Kind: model.TriggerScheduled}
	got, err := Next(c, now)
	if err != nil || got != nil {
		t.Fatalf("expected no deadline, got %v err %v", got, err)
	}
}

func TestNext_CheckInThresholds(t *testing.T) {
	last := now.Add(-10 * time.Hour)
	c := &model.Condition{
		Kind:             model.TriggerNoCheckIn,
		LastChecked:      timep(last),
		HoursThreshold:   intp(24),
		MinutesThreshold: intp(30),
	}

	got, err := Next(c, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := last.Add(24*time.Hour + 30*time.Minute)
	if got == nil || !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNext_ZeroThresholdIsValid(t *testing.T) {
	last := now.Add(-time.Minute)
	c := &model.Condition{
		Kind:           model.TriggerRegularCheckIn,
		LastChecked:    timep(last),
		HoursThreshold: intp(0),
	}

	got, err := Next(c, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got == nil || !got.Equal(last) {
		t.Fatalf("zero threshold must yield immediate deadline, got %v", got)
	}
}

func TestNext_NeverCheckedIn(t *testing.T) {
	c := &model.Condition{Kind: model.TriggerNoCheckIn, HoursThreshold: intp(24)}
	got, err := Next(c, now)
	if err != nil || got != nil {
		t.Fatalf("expected no deadline without a check-in, got %v err %v", got, err)
	}
}

func TestNext_NoThresholds(t *testing.T) {
	c := &model.Condition{Kind: model.TriggerInactivityToDate, LastChecked: timep(now)}
	got, err := Next(c, now)
	if err != nil || got != nil {
		t.Fatalf("expected no deadline without thresholds, got %v err %v", got, err)
	}
}

func TestNext_PanicKindIsContractViolation(t *testing.T) {
	c := &model.Condition{ConditionID: "p1", Kind: model.TriggerPanic}
	if _, err := Next(c, now); !errors.Is(err, model.ErrInvalidConditionKind) {
		t.Fatalf("expected ErrInvalidConditionKind, got %v", err)
	}
}

func TestNext_Deterministic(t *testing.T) {
	last := now.Add(-3 * time.Hour)
	c := &model.Condition{
		Kind:           model.TriggerNoCheckIn,
		LastChecked:    timep(last),
		HoursThreshold: intp(12),
	}
	first, err := Next(c, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Next(c, now)
		if err != nil {
			t.Fatalf("Next repeat: %v", err)
		}
		if !again.Equal(*first) {
			t.Fatalf("non-deterministic result: %v vs %v", again, first)
		}
	}
}
