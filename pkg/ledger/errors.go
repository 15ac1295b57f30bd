package ledger

import "errors"

var (
	// ErrQuotaExhausted is returned when no minutes remain in the period
	ErrQuotaExhausted = errors.New("quota exhausted")

	// ErrSessionConflict is returned when a start request finds a non-stale active session
	ErrSessionConflict = errors.New("session already active")

	// ErrSessionMismatch is returned for a heartbeat referencing an unknown session id
	ErrSessionMismatch = errors.New("session mismatch")

	// ErrInvalidPlan is returned for a plan missing from the policy table
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrStorageUnavailable is returned when no store is configured
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrActorClosed is returned for operations against a stopped actor
	ErrActorClosed = errors.New("actor closed")

	// ErrStaleWrite is returned by stores when a write carries an older
	// version than the stored row. The synchronizer logs and drops it.
	ErrStaleWrite = errors.New("stale write")
)
