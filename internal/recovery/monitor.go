// Package recovery closes scheduling gaps left by crashes and downtime.
//
// The scheduler worker only ever acts on rows that exist. If the process
// died between a check-in and its replan, or sat offline past a deadline,
// the schedule store can be missing the delivery row entirely. The monitor
// sweeps for both failure shapes: processing rows abandoned mid-flight and
// armed conditions whose deadline passed with no live delivery on record.
package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/everkeep/everkeep/server/internal/deadline"
	"github.com/everkeep/everkeep/server/internal/dispatch"
	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

type Config struct {
	Interval        time.Duration // sweep cadence
	StuckThreshold  time.Duration // processing rows older than this are reclaimed
	DispatchTimeout time.Duration // per-delivery deadline during a sweep
}

// Stats reports what a single sweep did.
type Stats struct {
	// Reset counts abandoned processing rows returned to pending.
	Reset int `json:"reset"`
	// Recovered counts missed deadlines delivered directly.
	Recovered int `json:"recovered"`
	// Requeued counts missed deadlines handed back to the worker after a
	// failed delivery.
	Requeued int `json:"requeued"`
}

type Monitor struct {
	store store.Store
	disp  dispatch.Dispatcher
	bus   *events.Bus
	log   zerolog.Logger
	cfg   Config
	now   func() time.Time
}

func NewMonitor(s store.Store, d dispatch.Dispatcher, bus *events.Bus, cfg Config, log zerolog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 5 * time.Minute
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Monitor{
		store: s,
		disp:  d,
		bus:   bus,
		log:   log.With().Str("component", "recovery").Logger(),
		cfg:   cfg,
		now:   time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Run sweeps on a ticker until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.cfg.Interval).Msg("recovery monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("recovery monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			stats, err := m.RunOnce(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("recovery sweep failed")
				continue
			}
			if stats.Reset+stats.Recovered+stats.Requeued > 0 {
				m.log.Info().
					Int("reset", stats.Reset).
					Int("recovered", stats.Recovered).
					Int("requeued", stats.Requeued).
					Msg("recovery sweep")
			}
		}
	}
}

// RunOnce performs a single sweep: reclaim abandoned rows, then scan every
// armed condition for a deadline that passed without a live delivery row.
func (m *Monitor) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := m.now().UTC()

	reset, err := m.store.Schedules().ResetStuck(ctx, now.Add(-m.cfg.StuckThreshold))
	if err != nil {
		return stats, errors.Wrap(err, "reset stuck entries")
	}
	stats.Reset = reset

	active, err := m.store.Conditions().ListActive(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "list active conditions")
	}
	for _, cond := range active {
		if cond.Kind == model.TriggerPanic {
			continue
		}
		due, err := deadline.Next(cond, now)
		if err != nil || due == nil || due.After(now) {
			continue
		}
		live, err := m.store.Schedules().LiveFinal(ctx, cond.MessageID)
		if err != nil {
			m.log.Error().Err(err).Str("message_id", cond.MessageID).Msg("live final lookup failed")
			continue
		}
		if live != nil {
			// A pending or in-flight delivery exists; the worker owns it.
			continue
		}
		if m.deliverMissed(ctx, cond, now) {
			stats.Recovered++
		} else {
			stats.Requeued++
		}
	}
	return stats, nil
}

// deliverMissed handles an armed condition whose deadline passed with no
// delivery row at all. It tries the delivery directly; if that fails it
// plants a pending row due immediately so the worker keeps retrying.
// Returns true when the delivery went out.
func (m *Monitor) deliverMissed(ctx context.Context, cond *model.Condition, now time.Time) bool {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	err := m.disp.DeliverFinal(dctx, cond.Recipients, cond.MessageID)
	cancel()

	outcome := model.StatusSent
	if err != nil {
		m.log.Error().Err(err).
			Str("condition_id", cond.ConditionID).
			Str("message_id", cond.MessageID).
			Msg("missed-deadline delivery failed, requeueing")
		outcome = model.StatusPending
	}

	entry := &model.ScheduleEntry{
		EntryID:     uuid.New().String(),
		MessageID:   cond.MessageID,
		ConditionID: cond.ConditionID,
		ScheduledAt: now,
		Kind:        model.EntryFinalDelivery,
		Status:      outcome,
		Priority:    model.PriorityCritical,
		Retry:       model.RetryAggressive,
	}
	if ierr := m.store.Schedules().Insert(ctx, []*model.ScheduleEntry{entry}); ierr != nil {
		m.log.Error().Err(ierr).Str("message_id", cond.MessageID).Msg("recovery entry insert failed")
	}
	if err != nil {
		return false
	}

	cond.Active = false
	if _, uerr := m.store.Conditions().Update(ctx, cond); uerr != nil && !errors.Is(uerr, model.ErrConflict) {
		m.log.Error().Err(uerr).Str("condition_id", cond.ConditionID).Msg("disarm after recovery failed")
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{
			ConditionID: cond.ConditionID,
			MessageID:   cond.MessageID,
			Action:      events.ActionDelivered,
			Timestamp:   now,
		})
	}
	return true
}
