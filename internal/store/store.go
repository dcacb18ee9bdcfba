package store

import (
	"context"
	"time"

	"github.com/everkeep/everkeep/server/internal/model"
)

// Store exposes persistence operations required by the scheduling engine.
// Implementations live under internal/store/<driver>/ (postgres, sqlite,
// memstore for tests).
type Store interface {
	Conditions() Conditions
	Schedules() Schedules
}

// Conditions persists delivery rules. Update uses optimistic concurrency:
// the write succeeds only when the stored version matches the caller's
// snapshot, otherwise model.ErrConflict is returned. This is the
// per-condition serialization boundary for Arm/Disarm/CheckIn.
type Conditions interface {
	Create(ctx context.Context, c *model.Condition) (*model.Condition, error)
	Get(ctx context.Context, conditionID string) (*model.Condition, error)
	GetByMessage(ctx context.Context, messageID string) (*model.Condition, error)
	ListActive(ctx context.Context) ([]*model.Condition, error)
	Update(ctx context.Context, c *model.Condition) (*model.Condition, error)
}

// Schedules persists reminder/delivery work items. ClaimDue is the single
// atomic claim-and-lock primitive: due pending rows move to processing and
// get their last_attempt_at stamped as one operation, so two workers never
// claim the same entry.
type Schedules interface {
	// Insert appends entries in one atomic batch.
	Insert(ctx context.Context, entries []*model.ScheduleEntry) error
	// Replace atomically marks every non-terminal entry for the message
	// obsolete and inserts the new drafts, so a stale plan can never race
	// its successor.
	Replace(ctx context.Context, messageID string, entries []*model.ScheduleEntry) error
	// MarkObsolete retires all pending/processing entries for a message.
	MarkObsolete(ctx context.Context, messageID string) (int, error)
	// ClaimDue atomically claims up to limit pending entries scheduled at
	// or before now, transitioning them to processing.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduleEntry, error)
	// Complete transitions a processing entry to sent or failed.
	Complete(ctx context.Context, entryID string, outcome model.EntryStatus) error
	// Get returns a single entry by id.
	Get(ctx context.Context, entryID string) (*model.ScheduleEntry, error)
	// ListByMessage returns all entries for a message, oldest first.
	ListByMessage(ctx context.Context, messageID string) ([]*model.ScheduleEntry, error)
	// ListByStatus returns up to limit entries with the given status,
	// oldest scheduled first.
	ListByStatus(ctx context.Context, status model.EntryStatus, limit int) ([]*model.ScheduleEntry, error)
	// LiveFinal returns the non-obsolete final_delivery entry for a
	// message, or nil when none exists.
	LiveFinal(ctx context.Context, messageID string) (*model.ScheduleEntry, error)
	// ResetStuck returns processing entries whose last attempt is older
	// than the cutoff back to pending, and reports how many were reset.
	ResetStuck(ctx context.Context, olderThan time.Time) (int, error)
}
