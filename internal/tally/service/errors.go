package service

import "errors"

var (
	// Validation failures — reported before any store I/O.
	ErrInvalidDoorNumber = errors.New("door_number must be between 1 and 26")
	ErrInvalidEventType  = errors.New("event_type must be one of A_IN, A_OUT, B_IN, B_OUT")
	ErrInvalidRetention  = errors.New("retention_days must be positive")

	// ErrNotFound means an undo target is absent or already undone.
	ErrNotFound = errors.New("event not found or already undone")

	// ErrStoreUnavailable is the retryable kind: the store timed out or
	// could not be reached. The ledger never retries on its own.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrIntegrity means the store rejected a row despite service-level
	// validation. A caller bypassed the service; logged loudly.
	ErrIntegrity = errors.New("store integrity violation")
)
