package model

import "errors"

var (
	// ErrNotFound reports a missing condition, message, or entry.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a lost optimistic-concurrency race; callers
	// may re-read and retry.
	ErrConflict = errors.New("conflict")
	// ErrInvalidConditionKind reports an operation applied to a trigger
	// kind that does not support it. Programmer error; never retried.
	ErrInvalidConditionKind = errors.New("invalid condition kind")
	// ErrNotActive reports an operation that requires an armed condition.
	ErrNotActive = errors.New("condition not active")
	// ErrDispatchFailure reports a failed or timed-out notification
	// dispatch.
	ErrDispatchFailure = errors.New("dispatch failure")
	// ErrValidation reports malformed caller input.
	ErrValidation = errors.New("validation error")
)
