package clientsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/model"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu       sync.Mutex
	cond     model.Condition
	schedule []*model.ScheduleEntry
	gets     int
	schedGet int
	checkIns int
	fail     error
}

func (f *fakeBackend) GetCondition(ctx context.Context, conditionID string) (*model.Condition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	c := f.cond
	return &c, nil
}

func (f *fakeBackend) GetConditionByMessage(ctx context.Context, messageID string) (*model.Condition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	c := f.cond
	return &c, nil
}

func (f *fakeBackend) MessageSchedule(ctx context.Context, messageID string) ([]*model.ScheduleEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedGet++
	return f.schedule, nil
}

func (f *fakeBackend) Arm(ctx context.Context, conditionID string) (*time.Time, error) {
	return f.mutate()
}

func (f *fakeBackend) Disarm(ctx context.Context, conditionID string) error {
	_, err := f.mutate()
	return err
}

func (f *fakeBackend) CheckIn(ctx context.Context, conditionID string) (*time.Time, error) {
	f.mu.Lock()
	f.checkIns++
	f.mu.Unlock()
	return f.mutate()
}

func (f *fakeBackend) mutate() (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	stamp := t0.Add(time.Hour)
	f.cond.LastChecked = &stamp
	dl := stamp.Add(24 * time.Hour)
	return &dl, nil
}

func (f *fakeBackend) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func newFixture() (*Syncer, *fakeBackend, *time.Time) {
	b := &fakeBackend{
		cond: model.Condition{
			ConditionID: "cond-1",
			MessageID:   "msg-1",
			Kind:        model.TriggerNoCheckIn,
			Active:      true,
		},
	}
	clock := t0
	s := New(b, nil, 3*time.Second, zerolog.Nop()).WithClock(func() time.Time { return clock })
	return s, b, &clock
}

func TestCondition_ReadThrough(t *testing.T) {
	s, b, _ := newFixture()
	ctx := context.Background()

	c1, err := s.Condition(ctx, "cond-1")
	require.NoError(t, err)
	c2, err := s.Condition(ctx, "cond-1")
	require.NoError(t, err)

	assert.Equal(t, c1.ConditionID, c2.ConditionID)
	assert.Equal(t, 1, b.getCount(), "second read within TTL must come from cache")
}

func TestCondition_TTLExpiry(t *testing.T) {
	s, b, clock := newFixture()
	ctx := context.Background()

	_, err := s.Condition(ctx, "cond-1")
	require.NoError(t, err)

	*clock = t0.Add(4 * time.Second)
	_, err = s.Condition(ctx, "cond-1")
	require.NoError(t, err)
	assert.Equal(t, 2, b.getCount(), "expired entry must re-read the backend")
}

func TestConditionByMessage_SharesCache(t *testing.T) {
	s, b, _ := newFixture()
	ctx := context.Background()

	_, err := s.ConditionByMessage(ctx, "msg-1")
	require.NoError(t, err)
	_, err = s.Condition(ctx, "cond-1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.getCount(), "message and id lookups share one cached entry")
}

func TestSchedule_ReadThrough(t *testing.T) {
	s, b, _ := newFixture()
	b.schedule = []*model.ScheduleEntry{{EntryID: "e1", MessageID: "msg-1"}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entries, err := s.Schedule(ctx, "msg-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
	}
	assert.Equal(t, 1, b.schedGet)
}

func TestCheckIn_ConfirmedResultReplacesGuess(t *testing.T) {
	s, b, _ := newFixture()
	ctx := context.Background()

	_, err := s.Condition(ctx, "cond-1")
	require.NoError(t, err)

	dl, err := s.CheckIn(ctx, "cond-1")
	require.NoError(t, err)
	require.NotNil(t, dl)

	got, ok := s.cache.getCondition("cond-1")
	require.True(t, ok, "confirmed condition must be cached")
	require.NotNil(t, got.LastChecked)
	assert.Equal(t, t0.Add(time.Hour), got.LastChecked.UTC(), "cache must hold the backend's stamp, not the optimistic guess")
	assert.Equal(t, 1, b.checkIns)
}

func TestCheckIn_FailureRollsBack(t *testing.T) {
	s, b, _ := newFixture()
	ctx := context.Background()

	_, err := s.Condition(ctx, "cond-1")
	require.NoError(t, err)

	b.fail = model.ErrNotActive
	_, err = s.CheckIn(ctx, "cond-1")
	require.ErrorIs(t, err, model.ErrNotActive)

	_, ok := s.cache.getCondition("cond-1")
	assert.False(t, ok, "optimistic guess must not survive a rejected check-in")
}

func TestWatch_InvalidatesOnEvents(t *testing.T) {
	b := &fakeBackend{
		cond: model.Condition{ConditionID: "cond-1", MessageID: "msg-1", Kind: model.TriggerNoCheckIn},
	}
	bus := events.NewBus(8)
	defer bus.Close()
	clock := t0
	s := New(b, bus, time.Hour, zerolog.Nop()).WithClock(func() time.Time { return clock })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Watch(ctx) }()

	_, err := s.Condition(ctx, "cond-1")
	require.NoError(t, err)
	_, ok := s.cache.getCondition("cond-1")
	require.True(t, ok)

	// Give Watch a moment to subscribe before publishing.
	require.Eventually(t, func() bool {
		return bus.Publish(events.Event{
			ConditionID: "cond-1",
			MessageID:   "msg-1",
			Action:      events.ActionCheckedIn,
			Timestamp:   t0,
		}) > 0
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, ok := s.cache.getCondition("cond-1")
		return !ok
	}, time.Second, 10*time.Millisecond, "event must evict the cached condition")
}
