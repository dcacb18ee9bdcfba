// Package scheduler polls the schedule store for due work items and
// drives them through notification dispatch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/everkeep/everkeep/server/internal/dispatch"
	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/model"
	"github.com/everkeep/everkeep/server/internal/store"
)

// Config controls batch size, polling cadence, and retry behavior.
type Config struct {
	BatchSize       int           // rows claimed per cycle
	Interval        time.Duration // poll interval
	Parallelism     int           // concurrent dispatches per cycle
	DispatchTimeout time.Duration // per-dispatch deadline
	RetryDelay      time.Duration // delay before an aggressive re-enqueue
	MaxAttempts     int           // aggressive retry bound
}

// Worker claims due schedule entries and dispatches them. Every claimed
// entry is completed within its own poll pass: sent on success, failed on
// any error. Failed aggressive entries are re-enqueued as fresh pending
// rows until MaxAttempts is reached.
type Worker struct {
	store store.Store
	disp  dispatch.Dispatcher
	bus   *events.Bus
	log   zerolog.Logger
	cfg   Config
	now   func() time.Time
}

// NewWorker constructs a Worker from dependencies.
func NewWorker(s store.Store, d dispatch.Dispatcher, bus *events.Bus, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{store: s, disp: d, bus: bus, log: log, cfg: cfg, now: time.Now}
}

// WithClock overrides the worker clock. Test hook.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("scheduler worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("scheduler worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; entries stay claimable after recovery.
				w.log.Error().Stack().Err(err).Msg("scheduler cycle failed")
			}
		}
	}
}

// ProcessOnce runs a single claim-dispatch-complete cycle and reports how
// many entries it handled.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	now := w.now().UTC()
	claimed, err := w.store.Schedules().ClaimDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due entries: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallelism)
	for _, e := range claimed {
		g.Go(func() error {
			w.handle(gctx, e)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// handle dispatches one claimed entry and records the outcome. It never
// returns an error: a claimed entry always ends sent or failed.
func (w *Worker) handle(ctx context.Context, e *model.ScheduleEntry) {
	err := w.dispatchEntry(ctx, e)
	if err == nil {
		w.complete(ctx, e, model.StatusSent)
		return
	}

	w.log.Warn().Err(err).
		Str("entry_id", e.EntryID).
		Str("kind", string(e.Kind)).
		Str("message_id", e.MessageID).
		Int("attempts", e.Attempts).
		Msg("dispatch failed")
	w.complete(ctx, e, model.StatusFailed)

	if e.Retry == model.RetryAggressive {
		w.requeue(ctx, e)
	}
}

// dispatchEntry resolves the entry's condition and calls the gateway with
// a per-dispatch timeout, so one slow call cannot stall the batch.
func (w *Worker) dispatchEntry(ctx context.Context, e *model.ScheduleEntry) error {
	cond, err := w.store.Conditions().Get(ctx, e.ConditionID)
	if err != nil {
		return fmt.Errorf("resolve condition %s: %w", e.ConditionID, err)
	}
	if !cond.Active {
		// Disarm raced the claim; the entry is already superseded.
		return fmt.Errorf("condition %s no longer active: %w", e.ConditionID, model.ErrNotActive)
	}

	dctx, cancel := context.WithTimeout(ctx, w.cfg.DispatchTimeout)
	defer cancel()

	switch e.Kind {
	case model.EntryReminder:
		if err := w.disp.RemindOwner(dctx, cond.OwnerID, cond.MessageID); err != nil {
			return err
		}
		w.publish(cond, events.ActionReminderSent)
		return nil
	case model.EntryFinalDelivery:
		if err := w.disp.DeliverFinal(dctx, cond.Recipients, cond.MessageID); err != nil {
			return err
		}
		w.afterFinalDelivery(ctx, cond)
		return nil
	default:
		return fmt.Errorf("unknown entry kind: %s", e.Kind)
	}
}

// afterFinalDelivery closes the condition's cycle: a delivered message
// needs no further monitoring.
func (w *Worker) afterFinalDelivery(ctx context.Context, cond *model.Condition) {
	cond.Active = false
	if _, err := w.store.Conditions().Update(ctx, cond); err != nil && !errors.Is(err, model.ErrConflict) {
		w.log.Error().Stack().Err(err).Str("condition_id", cond.ConditionID).
			Msg("failed to disarm condition after final delivery")
	}
	w.publish(cond, events.ActionDelivered)
}

func (w *Worker) complete(ctx context.Context, e *model.ScheduleEntry, outcome model.EntryStatus) {
	if err := w.store.Schedules().Complete(ctx, e.EntryID, outcome); err != nil {
		w.log.Error().Stack().Err(err).Str("entry_id", e.EntryID).Str("outcome", string(outcome)).
			Msg("failed to record entry outcome")
	}
}

// requeue re-enqueues a failed aggressive entry a short delay out, until
// the attempt budget is spent; after that the failed row is left for an
// operator requeue.
func (w *Worker) requeue(ctx context.Context, e *model.ScheduleEntry) {
	nextAttempt := e.Attempts + 1
	if nextAttempt >= w.cfg.MaxAttempts {
		w.log.Error().Str("entry_id", e.EntryID).Int("attempts", nextAttempt).
			Msg("aggressive entry exhausted retries")
		return
	}
	fresh := &model.ScheduleEntry{
		EntryID:     uuid.New().String(),
		MessageID:   e.MessageID,
		ConditionID: e.ConditionID,
		ScheduledAt: w.now().UTC().Add(w.cfg.RetryDelay),
		Kind:        e.Kind,
		Status:      model.StatusPending,
		Priority:    e.Priority,
		Retry:       e.Retry,
		Attempts:    nextAttempt,
	}
	if err := w.store.Schedules().Insert(ctx, []*model.ScheduleEntry{fresh}); err != nil {
		w.log.Error().Stack().Err(err).Str("entry_id", e.EntryID).
			Msg("failed to re-enqueue aggressive entry")
	}
}

func (w *Worker) publish(cond *model.Condition, action events.Action) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(events.Event{
		ConditionID: cond.ConditionID,
		MessageID:   cond.MessageID,
		Action:      action,
		Timestamp:   w.now().UTC(),
	})
}
