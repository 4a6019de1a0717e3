package scenario

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown or soft-deleted scenarios.
	ErrNotFound = errors.New("scenario: not found")
	// ErrInvalidStatus signals a status outside the defined lifecycle values.
	ErrInvalidStatus = errors.New("scenario: invalid status")
	// ErrValidation signals malformed input; the request must not be retried as-is.
	ErrValidation = errors.New("scenario: validation failed")
)

// ConflictError is returned when the stored version does not match the
// caller's expected version. It carries the stored state so the caller can
// reload and retry correctly.
type ConflictError struct {
	ScenarioID      string
	ExpectedVersion int
	CurrentVersion  int
	CurrentStatus   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scenario: version conflict on %s: expected %d, stored %d (status %s)",
		e.ScenarioID, e.ExpectedVersion, e.CurrentVersion, e.CurrentStatus)
}

// IllegalTransitionError is returned when the validator denies a transition.
type IllegalTransitionError struct {
	Current   Status
	Requested Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("scenario: illegal transition %s -> %s", e.Current, e.Requested)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsIllegalTransition reports whether err is a validator denial.
func IsIllegalTransition(err error) bool {
	var te *IllegalTransitionError
	return errors.As(err, &te)
}
