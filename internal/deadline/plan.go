package deadline

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/server/internal/model"
)

// overdueGrace is the offset applied to entries whose natural time has
// already passed. Overdue plans are pushed a few seconds into the future
// rather than scheduled in the literal past, so the worker's next poll
// picks them up.
const overdueGrace = 5 * time.Second

// BuildPlan expands a computed deadline into schedule entry drafts for a
// condition: zero or more reminders at leadMinutes before the deadline,
// and exactly one final delivery at the deadline itself. Entries come
// back pending, with strictly increasing scheduled times.
//
// An overdue deadline still produces a deliverable plan: the entries are
// compressed to near-immediate timestamps and marked critical with
// aggressive retry, so the system self-heals instead of silently never
// delivering.
func BuildPlan(c *model.Condition, deadline time.Time, now time.Time) []*model.ScheduleEntry {
	if !deadline.After(now) {
		return overduePlan(c, now)
	}

	leads := append([]int(nil), c.ReminderLeadTimes...)
	// Largest lead first, so reminder times come out ascending.
	sort.Sort(sort.Reverse(sort.IntSlice(leads)))

	var entries []*model.ScheduleEntry
	var last time.Time
	for _, m := range leads {
		at := deadline.Add(-time.Duration(m) * time.Minute)
		if !at.After(now) {
			continue
		}
		if len(entries) > 0 && !at.After(last) {
			// Duplicate lead times collapse to one reminder.
			continue
		}
		entries = append(entries, draft(c, model.EntryReminder, at, model.PriorityNormal, model.RetryStandard, now))
		last = at
	}

	entries = append(entries, draft(c, model.EntryFinalDelivery, deadline, model.PriorityHigh, model.RetryStandard, now))
	return entries
}

// overduePlan compresses a missed deadline into a near-immediate plan.
func overduePlan(c *model.Condition, now time.Time) []*model.ScheduleEntry {
	var entries []*model.ScheduleEntry
	at := now.Add(overdueGrace)
	if len(c.ReminderLeadTimes) > 0 {
		entries = append(entries, draft(c, model.EntryReminder, at, model.PriorityCritical, model.RetryAggressive, now))
		at = at.Add(overdueGrace)
	}
	entries = append(entries, draft(c, model.EntryFinalDelivery, at, model.PriorityCritical, model.RetryAggressive, now))
	return entries
}

func draft(c *model.Condition, kind model.EntryKind, at time.Time, prio model.Priority, retry model.RetryStrategy, now time.Time) *model.ScheduleEntry {
	return &model.ScheduleEntry{
		EntryID:      uuid.New().String(),
		MessageID:    c.MessageID,
		ConditionID:  c.ConditionID,
		ScheduledAt:  at.UTC(),
		Kind:         kind,
		Status:       model.StatusPending,
		Priority:     prio,
		Retry:        retry,
		CreationTime: now.UTC(),
	}
}
