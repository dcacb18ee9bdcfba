package clientsync

import (
	"sync"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
)

// cache is a small TTL cache for condition and schedule reads. Entries
// expire quickly; the point is to absorb bursts of identical reads from a
// polling client, not to be a durable store.
type cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	conds     map[string]condEntry // keyed by condition id
	byMessage map[string]string    // message id -> condition id
	schedules map[string]schedEntry
}

type condEntry struct {
	cond    *model.Condition
	expires time.Time
}

type schedEntry struct {
	entries []*model.ScheduleEntry
	expires time.Time
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{
		ttl:       ttl,
		now:       now,
		conds:     make(map[string]condEntry),
		byMessage: make(map[string]string),
		schedules: make(map[string]schedEntry),
	}
}

func (c *cache) getCondition(conditionID string) (*model.Condition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.conds[conditionID]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.cond, true
}

func (c *cache) getConditionByMessage(messageID string) (*model.Condition, bool) {
	c.mu.Lock()
	id, ok := c.byMessage[messageID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.getCondition(id)
}

func (c *cache) putCondition(cond *model.Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conds[cond.ConditionID] = condEntry{cond: cond, expires: c.now().Add(c.ttl)}
	c.byMessage[cond.MessageID] = cond.ConditionID
}

func (c *cache) getSchedule(messageID string) ([]*model.ScheduleEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.schedules[messageID]
	if !ok || c.now().After(e.expires) {
		return nil, false
	}
	return e.entries, true
}

func (c *cache) putSchedule(messageID string, entries []*model.ScheduleEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules[messageID] = schedEntry{entries: entries, expires: c.now().Add(c.ttl)}
}

// invalidateCondition drops the condition and its schedule. The message
// index entry stays so a re-read can still resolve message -> condition.
func (c *cache) invalidateCondition(conditionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.conds[conditionID]; ok {
		delete(c.schedules, e.cond.MessageID)
	}
	delete(c.conds, conditionID)
}

func (c *cache) invalidateMessage(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schedules, messageID)
	if id, ok := c.byMessage[messageID]; ok {
		delete(c.conds, id)
	}
}
