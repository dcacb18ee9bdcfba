package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/everkeep/everkeep/server/internal/deadline"
	"github.com/everkeep/everkeep/server/internal/dispatch"
	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

// ConditionService owns the condition state machine: arm, disarm,
// check-in, and panic fire. Mutations are serialized per condition by the
// store's optimistic versioning; a lost race surfaces as model.ErrConflict.
type ConditionService struct {
	store store.Store
	disp  dispatch.Dispatcher
	bus   *events.Bus
	log   zerolog.Logger
	now   func() time.Time
}

func NewConditionService(s store.Store, d dispatch.Dispatcher, bus *events.Bus, log zerolog.Logger) *ConditionService {
	return &ConditionService{store: s, disp: d, bus: bus, log: log, now: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *ConditionService) WithClock(now func() time.Time) *ConditionService {
	s.now = now
	return s
}

// CreateCondition registers the delivery rule for a message. Conditions
// start disarmed; arming is a separate, explicit step.
func (s *ConditionService) CreateCondition(ctx context.Context, c *model.Condition) (*model.Condition, error) {
	if c.MessageID == "" || c.OwnerID == "" {
		return nil, fmt.Errorf("messageId and ownerId are required: %w", model.ErrValidation)
	}
	if !c.Kind.Valid() {
		return nil, fmt.Errorf("unknown trigger kind %q: %w", c.Kind, model.ErrValidation)
	}
	if c.ConditionID == "" {
		c.ConditionID = uuid.New().String()
	}
	c.Active = false
	created, err := s.store.Conditions().Create(ctx, c)
	if err != nil {
		return nil, err
	}
	s.publish(created, events.ActionCreated)
	return created, nil
}

// GetCondition returns a condition by id.
func (s *ConditionService) GetCondition(ctx context.Context, conditionID string) (*model.Condition, error) {
	return s.store.Conditions().Get(ctx, conditionID)
}

// GetConditionByMessage returns the condition attached to a message.
func (s *ConditionService) GetConditionByMessage(ctx context.Context, messageID string) (*model.Condition, error) {
	return s.store.Conditions().GetByMessage(ctx, messageID)
}

// Arm activates a condition and installs its reminder plan before
// returning, so a caller never observes "armed" without a schedule. The
// computed deadline is returned, or nil when the kind has none (panic).
//
// A plan-generation failure does not roll back arming: arming is the
// user-visible contract, and the recovery monitor closes schedule gaps.
func (s *ConditionService) Arm(ctx context.Context, conditionID string) (*time.Time, error) {
	c, err := s.store.Conditions().Get(ctx, conditionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c.Active = true
	if c.Kind.UsesCheckIn() {
		c.LastChecked = &now
	}
	updated, err := s.store.Conditions().Update(ctx, c)
	if err != nil {
		return nil, err
	}

	var dl *time.Time
	if c.Kind != model.TriggerPanic {
		dl, err = deadline.Next(updated, now)
		if err != nil {
			return nil, err
		}
		if dl != nil {
			s.replan(ctx, updated, *dl, now)
		}
	}
	s.publish(updated, events.ActionArmed)
	return dl, nil
}

// Disarm deactivates a condition and retires its schedule. Disarming an
// already-disarmed condition is a no-op, not an error.
func (s *ConditionService) Disarm(ctx context.Context, conditionID string) error {
	c, err := s.store.Conditions().Get(ctx, conditionID)
	if err != nil {
		return err
	}
	if !c.Active {
		return nil
	}
	c.Active = false
	if _, err := s.store.Conditions().Update(ctx, c); err != nil {
		return err
	}
	if _, err := s.store.Schedules().MarkObsolete(ctx, c.MessageID); err != nil {
		s.log.Error().Stack().Err(err).Str("message_id", c.MessageID).
			Msg("disarm: failed to retire schedule entries")
	}
	s.publish(c, events.ActionDisarmed)
	return nil
}

// CheckIn resets the no-activity clock for a check-in kind condition and
// regenerates its plan from the new deadline.
func (s *ConditionService) CheckIn(ctx context.Context, conditionID string) (*time.Time, error) {
	c, err := s.store.Conditions().Get(ctx, conditionID)
	if err != nil {
		return nil, err
	}
	if !c.Kind.UsesCheckIn() {
		return nil, fmt.Errorf("check-in on %s condition %s: %w", c.Kind, conditionID, model.ErrInvalidConditionKind)
	}
	if !c.Active {
		return nil, fmt.Errorf("check-in on condition %s: %w", conditionID, model.ErrNotActive)
	}

	now := s.now().UTC()
	c.LastChecked = &now
	updated, err := s.store.Conditions().Update(ctx, c)
	if err != nil {
		return nil, err
	}

	dl, err := deadline.Next(updated, now)
	if err != nil {
		return nil, err
	}
	if dl != nil {
		s.replan(ctx, updated, *dl, now)
	}
	s.publish(updated, events.ActionCheckedIn)
	return dl, nil
}

// FirePanic delivers a panic condition's message immediately and
// synchronously, bypassing the schedule entirely. When the condition is
// not configured to stay armed it ends disarmed.
func (s *ConditionService) FirePanic(ctx context.Context, conditionID string) error {
	c, err := s.store.Conditions().Get(ctx, conditionID)
	if err != nil {
		return err
	}
	if c.Kind != model.TriggerPanic {
		return fmt.Errorf("panic fire on %s condition %s: %w", c.Kind, conditionID, model.ErrInvalidConditionKind)
	}
	if !c.Active {
		return fmt.Errorf("panic fire on condition %s: %w", conditionID, model.ErrNotActive)
	}

	if err := s.disp.DeliverFinal(ctx, c.Recipients, c.MessageID); err != nil {
		return err
	}

	if !c.KeepArmed {
		c.Active = false
		if _, err := s.store.Conditions().Update(ctx, c); err != nil {
			// Delivery already happened; a lost disarm race only means a
			// newer write owns the condition now.
			s.log.Error().Stack().Err(err).Str("condition_id", conditionID).
				Msg("panic fire: disarm after delivery failed")
		}
	}
	s.publish(c, events.ActionPanicFired)
	return nil
}

// MessageSchedule lists all schedule entries for a message, oldest first.
func (s *ConditionService) MessageSchedule(ctx context.Context, messageID string) ([]*model.ScheduleEntry, error) {
	return s.store.Schedules().ListByMessage(ctx, messageID)
}

// EntriesByStatus lists up to limit entries with the given status.
func (s *ConditionService) EntriesByStatus(ctx context.Context, status model.EntryStatus, limit int) ([]*model.ScheduleEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Schedules().ListByStatus(ctx, status, limit)
}

// RequeueEntry clones a failed entry into a fresh pending one due now.
// Operator remediation for entries that exhausted their retries.
func (s *ConditionService) RequeueEntry(ctx context.Context, entryID string) (*model.ScheduleEntry, error) {
	e, err := s.store.Schedules().Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status != model.StatusFailed {
		return nil, fmt.Errorf("requeue %s: entry is %s, not failed: %w", entryID, e.Status, model.ErrConflict)
	}
	now := s.now().UTC()
	fresh := &model.ScheduleEntry{
		EntryID:     uuid.New().String(),
		MessageID:   e.MessageID,
		ConditionID: e.ConditionID,
		ScheduledAt: now,
		Kind:        e.Kind,
		Status:      model.StatusPending,
		Priority:    e.Priority,
		Retry:       e.Retry,
		Attempts:    e.Attempts,
	}
	if err := s.store.Schedules().Insert(ctx, []*model.ScheduleEntry{fresh}); err != nil {
		return nil, err
	}
	return fresh, nil
}

// replan atomically swaps the message's schedule for a fresh plan. Errors
// are logged, not returned: the mutation that triggered the replan has
// already succeeded, and the recovery monitor backstops schedule gaps.
func (s *ConditionService) replan(ctx context.Context, c *model.Condition, dl time.Time, now time.Time) {
	entries := deadline.BuildPlan(c, dl, now)
	if err := s.store.Schedules().Replace(ctx, c.MessageID, entries); err != nil {
		s.log.Error().Stack().Err(err).
			Str("condition_id", c.ConditionID).
			Str("message_id", c.MessageID).
			Time("deadline", dl).
			Msg("failed to install reminder plan; recovery monitor will close the gap")
	}
}

func (s *ConditionService) publish(c *model.Condition, action events.Action) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		ConditionID: c.ConditionID,
		MessageID:   c.MessageID,
		Action:      action,
		Timestamp:   s.now().UTC(),
	})
}

// IsRetryable reports whether the caller may retry the operation that
// produced err.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrConflict)
}
