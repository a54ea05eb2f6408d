package domain

import "errors"

var (
	// ErrInvalidArgument is returned for bad input, such as an empty subject id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned for an unknown run or subject.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation signals an illegal state transition. It is never
	// reachable through the public orchestrator operations; seeing it is a bug.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrSideEffect is returned when the completion summary could not be
	// published to the discussion thread. It is recorded as a warning and
	// never turns a completed run into a failed one.
	ErrSideEffect = errors.New("side effect failure")
)
