package portal

import "errors"

var (
	// ErrUserNotFound is returned when no user exists for the given id
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateEvent is returned when a billing event with the same
	// provider event id was already recorded. Callers treat this as a
	// benign signal that the event was processed on a prior delivery.
	ErrDuplicateEvent = errors.New("duplicate billing event")

	// ErrInvalidPatch is returned for a subscription patch without a user id
	ErrInvalidPatch = errors.New("invalid subscription patch")

	// ErrInvalidEvent is returned for a billing event without an id or type
	ErrInvalidEvent = errors.New("invalid billing event")

	// ErrStorageUnavailable is returned when the storage backend cannot be reached
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
