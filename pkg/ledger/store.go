package ledger

import (
	"context"
	"time"
)

// Store defines the interface for durable persistence of period snapshots and
// session audit rows. The store is eventually consistent with actor memory,
// never the other way around except at cold-start rehydration.
//
// All methods use concrete types from this package to avoid import cycles.
type Store interface {
	// LoadCurrentPeriod returns the most recent non-archived period record
	// for the user, or nil, nil if the user has never been persisted.
	LoadCurrentPeriod(ctx context.Context, userID string) (*PeriodRecord, error)

	// SavePeriod upserts a period snapshot keyed on (UserID, PeriodStart).
	// The write is conditional on the incoming version being >= the stored
	// version; a stale write returns ErrStaleWrite and leaves the row intact.
	SavePeriod(ctx context.Context, rec *PeriodRecord) error

	// CreateSession inserts an audit row for a newly started session.
	CreateSession(ctx context.Context, rec *SessionRecord) error

	// FinalizeSession records the outcome of a session. Finalizing an unknown
	// session id is not an error.
	FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, minutesUsed int, reason EndReason) error
}
