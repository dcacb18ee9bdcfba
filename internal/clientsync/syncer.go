// Package clientsync keeps a client-facing view of conditions and
// schedules consistent with the authoritative store without hammering it.
// Reads go through a short-TTL cache, mutations apply optimistically and
// are replaced by the confirmed server result, and bus events invalidate
// whatever they touch so other actors' changes show up promptly.
package clientsync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/model"
)

var errStreamClosed = errors.New("event stream closed")

// Backend is the authoritative condition API the syncer sits in front of.
// *services.ConditionService satisfies it.
type Backend interface {
	GetCondition(ctx context.Context, conditionID string) (*model.Condition, error)
	GetConditionByMessage(ctx context.Context, messageID string) (*model.Condition, error)
	MessageSchedule(ctx context.Context, messageID string) ([]*model.ScheduleEntry, error)
	Arm(ctx context.Context, conditionID string) (*time.Time, error)
	Disarm(ctx context.Context, conditionID string) error
	CheckIn(ctx context.Context, conditionID string) (*time.Time, error)
}

type Syncer struct {
	backend Backend
	bus     *events.Bus
	cache   *cache
	log     zerolog.Logger
	now     func() time.Time
}

func New(backend Backend, bus *events.Bus, ttl time.Duration, log zerolog.Logger) *Syncer {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	now := time.Now
	return &Syncer{
		backend: backend,
		bus:     bus,
		cache:   newCache(ttl, func() time.Time { return now() }),
		log:     log.With().Str("component", "clientsync").Logger(),
		now:     now,
	}
}

// WithClock overrides the time source for the syncer and its cache. Test hook.
func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	s.now = now
	s.cache.now = now
	return s
}

// Condition returns the cached condition or reads through to the backend.
func (s *Syncer) Condition(ctx context.Context, conditionID string) (*model.Condition, error) {
	if c, ok := s.cache.getCondition(conditionID); ok {
		return c, nil
	}
	c, err := s.backend.GetCondition(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	s.cache.putCondition(c)
	return c, nil
}

func (s *Syncer) ConditionByMessage(ctx context.Context, messageID string) (*model.Condition, error) {
	if c, ok := s.cache.getConditionByMessage(messageID); ok {
		return c, nil
	}
	c, err := s.backend.GetConditionByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.cache.putCondition(c)
	return c, nil
}

func (s *Syncer) Schedule(ctx context.Context, messageID string) ([]*model.ScheduleEntry, error) {
	if entries, ok := s.cache.getSchedule(messageID); ok {
		return entries, nil
	}
	entries, err := s.backend.MessageSchedule(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.cache.putSchedule(messageID, entries)
	return entries, nil
}

// CheckIn applies the check-in optimistically to the cached view, then
// confirms against the backend. A cached reader sees the new stamp
// immediately; the confirmed condition replaces the guess, and a rejected
// check-in rolls the guess back.
func (s *Syncer) CheckIn(ctx context.Context, conditionID string) (*time.Time, error) {
	if cached, ok := s.cache.getCondition(conditionID); ok {
		guess := *cached
		stamp := s.now().UTC()
		guess.LastChecked = &stamp
		s.cache.putCondition(&guess)
	}
	dl, err := s.backend.CheckIn(ctx, conditionID)
	if err != nil {
		s.cache.invalidateCondition(conditionID)
		return nil, err
	}
	s.refresh(ctx, conditionID)
	return dl, nil
}

func (s *Syncer) Arm(ctx context.Context, conditionID string) (*time.Time, error) {
	dl, err := s.backend.Arm(ctx, conditionID)
	if err != nil {
		s.cache.invalidateCondition(conditionID)
		return nil, err
	}
	s.refresh(ctx, conditionID)
	return dl, nil
}

func (s *Syncer) Disarm(ctx context.Context, conditionID string) error {
	if err := s.backend.Disarm(ctx, conditionID); err != nil {
		s.cache.invalidateCondition(conditionID)
		return err
	}
	s.refresh(ctx, conditionID)
	return nil
}

// refresh replaces the cached condition with the backend's confirmed state.
// On error the stale entry is dropped and the next read goes through.
func (s *Syncer) refresh(ctx context.Context, conditionID string) {
	s.cache.invalidateCondition(conditionID)
	c, err := s.backend.GetCondition(ctx, conditionID)
	if err != nil {
		s.log.Debug().Err(err).Str("condition_id", conditionID).Msg("post-mutation refresh failed")
		return
	}
	s.cache.putCondition(c)
}

// Watch consumes bus events and invalidates affected cache entries until
// ctx is cancelled. When the bus shuts down under it, it resubscribes with
// exponential backoff.
func (s *Syncer) Watch(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		ch, cancel := s.bus.Subscribe()
		err := s.drain(ctx, ch)
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Err(err).Msg("event stream ended, resubscribing")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (s *Syncer) drain(ctx context.Context, ch <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return errStreamClosed
			}
			s.apply(evt)
		}
	}
}

func (s *Syncer) apply(evt events.Event) {
	switch evt.Action {
	case events.ActionReminderSent:
		// Reminders only touch the schedule.
		s.cache.invalidateMessage(evt.MessageID)
	default:
		s.cache.invalidateCondition(evt.ConditionID)
		s.cache.invalidateMessage(evt.MessageID)
	}
}
