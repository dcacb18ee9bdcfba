package model

import "time"

// TriggerKind selects how a condition decides that its message is due.
type TriggerKind string

const (
	TriggerNoCheckIn        TriggerKind = "no_check_in"
	TriggerRegularCheckIn   TriggerKind = "regular_check_in"
	TriggerScheduled        TriggerKind = "scheduled"
	TriggerPanic            TriggerKind = "panic_trigger"
	TriggerInactivityToDate TriggerKind = "inactivity_to_date"
)

// UsesCheckIn reports whether the kind derives its deadline from the
// owner's last check-in plus a threshold.
func (k TriggerKind) UsesCheckIn() bool {
	switch k {
	case TriggerNoCheckIn, TriggerRegularCheckIn, TriggerInactivityToDate:
		return true
	}
	return false
}

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	switch k {
	case TriggerNoCheckIn, TriggerRegularCheckIn, TriggerScheduled, TriggerPanic, TriggerInactivityToDate:
		return true
	}
	return false
}

// Condition is the delivery rule attached to a message. Exactly one
// condition exists per message; disarming, not deleting, is the normal
// "off" state.
type Condition struct {
	ConditionID string      `json:"conditionId"`
	MessageID   string      `json:"messageId"`
	OwnerID     string      `json:"ownerId"`
	Kind        TriggerKind `json:"kind"`
	Active      bool        `json:"active"`

	// Check-in kinds: deadline = LastChecked + thresholds. A zero
	// threshold is valid and distinct from an unset one.
	LastChecked      *time.Time `json:"lastChecked,omitempty"`
	HoursThreshold   *int       `json:"hoursThreshold,omitempty"`
	MinutesThreshold *int       `json:"minutesThreshold,omitempty"`

	// Scheduled kind: absolute deadline.
	TriggerDate *time.Time `json:"triggerDate,omitempty"`

	// Minutes before the deadline at which the owner is reminded.
	ReminderLeadTimes []int `json:"reminderLeadTimes,omitempty"`

	// Opaque recipient references, resolved by the delivery gateway.
	Recipients []string `json:"recipients,omitempty"`

	// Panic kind: whether a fired condition stays armed for re-use.
	KeepArmed bool `json:"keepArmed,omitempty"`

	// Version guards concurrent mutation; every successful update
	// increments it.
	Version int64 `json:"version"`

	CreationTime time.Time `json:"creationTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

// EntryKind distinguishes reminder pings to the owner from the final
// delivery to recipients.
type EntryKind string

const (
	EntryReminder      EntryKind = "reminder"
	EntryFinalDelivery EntryKind = "final_delivery"
)

// EntryStatus is the lifecycle of a schedule entry. Entries are never
// physically deleted; superseded plans mark their entries obsolete.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
	StatusSent       EntryStatus = "sent"
	StatusFailed     EntryStatus = "failed"
	StatusObsolete   EntryStatus = "obsolete"
)

// Priority of a schedule entry. Overdue plans are generated critical.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RetryStrategy controls what the worker does with a failed entry.
type RetryStrategy string

const (
	RetryStandard   RetryStrategy = "standard"
	RetryAggressive RetryStrategy = "aggressive"
)

// ScheduleEntry is one planned reminder or final-delivery work item for
// a condition.
type ScheduleEntry struct {
	EntryID       string        `json:"entryId"`
	MessageID     string        `json:"messageId"`
	ConditionID   string        `json:"conditionId"`
	ScheduledAt   time.Time     `json:"scheduledAt"`
	Kind          EntryKind     `json:"kind"`
	Status        EntryStatus   `json:"status"`
	Priority      Priority      `json:"priority"`
	Retry         RetryStrategy `json:"retry"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt *time.Time    `json:"lastAttemptAt,omitempty"`
	CreationTime  time.Time     `json:"creationTime"`
}

// Terminal reports whether the entry can no longer be claimed.
func (e *ScheduleEntry) Terminal() bool {
	switch e.Status {
	case StatusSent, StatusFailed, StatusObsolete:
		return true
	}
	return false
}
