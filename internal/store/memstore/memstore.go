// Package memstore is an in-memory store.Store used by unit tests. It
// honors the same contracts as the SQL drivers: optimistic condition
// versioning and an atomic claim, both under one mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

type memStore struct {
	mu         sync.Mutex
	conditions map[string]*model.Condition    // by condition id
	byMessage  map[string]string              // message id -> condition id
	entries    map[string]*model.ScheduleEntry // by entry id
	order      []string                       // entry ids in insert order
}

// New returns an empty in-memory store.
func New() store.Store {
	return &memStore{
		conditions: make(map[string]*model.Condition),
		byMessage:  make(map[string]string),
		entries:    make(map[string]*model.ScheduleEntry),
	}
}

func (s *memStore) Conditions() store.Conditions { return (*conditions)(s) }
func (s *memStore) Schedules() store.Schedules   { return (*schedules)(s) }

// HealthPing implements health.Pinger.
func (s *memStore) HealthPing(ctx context.Context) error { return nil }

// --- Conditions ---

type conditions memStore

func (c *conditions) Create(_ context.Context, m *model.Condition) (*model.Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.conditions[m.ConditionID]; ok {
		return nil, model.ErrConflict
	}
	if _, ok := c.byMessage[m.MessageID]; ok {
		return nil, model.ErrConflict
	}
	out := clone(m)
	out.Version = 1
	now := time.Now().UTC()
	out.CreationTime = now
	out.UpdateTime = now
	c.conditions[out.ConditionID] = out
	c.byMessage[out.MessageID] = out.ConditionID
	return clone(out), nil
}

func (c *conditions) Get(_ context.Context, conditionID string) (*model.Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.conditions[conditionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return clone(m), nil
}

func (c *conditions) GetByMessage(_ context.Context, messageID string) (*model.Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byMessage[messageID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return clone(c.conditions[id]), nil
}

func (c *conditions) ListActive(_ context.Context) ([]*model.Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*model.Condition
	for _, m := range c.conditions {
		if m.Active {
			out = append(out, clone(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.Before(out[j].CreationTime) })
	return out, nil
}

func (c *conditions) Update(_ context.Context, m *model.Condition) (*model.Condition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.conditions[m.ConditionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	if cur.Version != m.Version {
		return nil, model.ErrConflict
	}
	out := clone(m)
	out.Version = m.Version + 1
	out.CreationTime = cur.CreationTime
	out.UpdateTime = time.Now().UTC()
	c.conditions[out.ConditionID] = out
	return clone(out), nil
}

func clone(m *model.Condition) *model.Condition {
	out := *m
	out.ReminderLeadTimes = append([]int(nil), m.ReminderLeadTimes...)
	out.Recipients = append([]string(nil), m.Recipients...)
	if m.LastChecked != nil {
		t := *m.LastChecked
		out.LastChecked = &t
	}
	if m.TriggerDate != nil {
		t := *m.TriggerDate
		out.TriggerDate = &t
	}
	if m.HoursThreshold != nil {
		v := *m.HoursThreshold
		out.HoursThreshold = &v
	}
	if m.MinutesThreshold != nil {
		v := *m.MinutesThreshold
		out.MinutesThreshold = &v
	}
	return &out
}

// --- Schedules ---

type schedules memStore

func (s *schedules) Insert(_ context.Context, entries []*model.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(entries)
	return nil
}

func (s *schedules) insertLocked(entries []*model.ScheduleEntry) {
	for _, e := range entries {
		out := cloneEntry(e)
		if out.CreationTime.IsZero() {
			out.CreationTime = time.Now().UTC()
		}
		s.entries[out.EntryID] = out
		s.order = append(s.order, out.EntryID)
	}
}

func (s *schedules) Replace(_ context.Context, messageID string, entries []*model.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obsoleteLocked(messageID)
	s.insertLocked(entries)
	return nil
}

func (s *schedules) MarkObsolete(_ context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obsoleteLocked(messageID), nil
}

func (s *schedules) obsoleteLocked(messageID string) int {
	n := 0
	for _, e := range s.entries {
		if e.MessageID == messageID && (e.Status == model.StatusPending || e.Status == model.StatusProcessing) {
			e.Status = model.StatusObsolete
			n++
		}
	}
	return n
}

func (s *schedules) ClaimDue(_ context.Context, now time.Time, limit int) ([]*model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.ScheduleEntry
	for _, e := range s.entries {
		if e.Status == model.StatusPending && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	stamp := now.UTC()
	var out []*model.ScheduleEntry
	for _, e := range due {
		e.Status = model.StatusProcessing
		t := stamp
		e.LastAttemptAt = &t
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *schedules) Complete(_ context.Context, entryID string, outcome model.EntryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok || e.Status != model.StatusProcessing {
		return model.ErrNotFound
	}
	e.Status = outcome
	e.Attempts++
	return nil
}

func (s *schedules) Get(_ context.Context, entryID string) (*model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *schedules) ListByMessage(_ context.Context, messageID string) ([]*model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ScheduleEntry
	for _, id := range s.order {
		if e := s.entries[id]; e.MessageID == messageID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

func (s *schedules) ListByStatus(_ context.Context, status model.EntryStatus, limit int) ([]*model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ScheduleEntry
	for _, id := range s.order {
		if e := s.entries[id]; e.Status == status {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *schedules) LiveFinal(_ context.Context, messageID string) (*model.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Newest insert wins; iterate in reverse insert order.
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.entries[s.order[i]]
		if e.MessageID == messageID && e.Kind == model.EntryFinalDelivery && e.Status != model.StatusObsolete {
			return cloneEntry(e), nil
		}
	}
	return nil, nil
}

func (s *schedules) ResetStuck(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == model.StatusProcessing && e.LastAttemptAt != nil && e.LastAttemptAt.Before(olderThan) {
			e.Status = model.StatusPending
			n++
		}
	}
	return n, nil
}

func cloneEntry(e *model.ScheduleEntry) *model.ScheduleEntry {
	out := *e
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		out.LastAttemptAt = &t
	}
	return &out
}
