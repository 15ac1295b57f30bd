// Package memory provides an in-memory implementation of the ledger.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// Store implements ledger.Store using in-memory maps.
type Store struct {
	mu       sync.RWMutex
	periods  map[string]map[string]*ledger.PeriodRecord // userID -> periodKey -> record
	sessions map[string]*ledger.SessionRecord
	saves    int
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		periods:  make(map[string]map[string]*ledger.PeriodRecord),
		sessions: make(map[string]*ledger.SessionRecord),
	}
}

func periodKey(start time.Time) string {
	return start.UTC().Format("2006-01-02")
}

// LoadCurrentPeriod implements ledger.Store.
func (s *Store) LoadCurrentPeriod(ctx context.Context, userID string) (*ledger.PeriodRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *ledger.PeriodRecord
	for _, rec := range s.periods[userID] {
		if rec.Archived {
			continue
		}
		if latest == nil || rec.PeriodStart.After(latest.PeriodStart) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil // never persisted is not an error
	}

	// Return a copy to prevent external mutations
	recCopy := *latest
	return &recCopy, nil
}

// SavePeriod implements ledger.Store with version-conditional upsert semantics.
func (s *Store) SavePeriod(ctx context.Context, rec *ledger.PeriodRecord) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("invalid period record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byPeriod, ok := s.periods[rec.UserID]
	if !ok {
		byPeriod = make(map[string]*ledger.PeriodRecord)
		s.periods[rec.UserID] = byPeriod
	}

	key := periodKey(rec.PeriodStart)
	if existing, ok := byPeriod[key]; ok && rec.Version < existing.Version {
		return ledger.ErrStaleWrite
	}

	recCopy := *rec
	byPeriod[key] = &recCopy
	s.saves++
	return nil
}

// CreateSession implements ledger.Store.
func (s *Store) CreateSession(ctx context.Context, rec *ledger.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("invalid session record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.sessions[rec.ID] = &recCopy
	return nil
}

// FinalizeSession implements ledger.Store. Unknown session ids are ignored.
func (s *Store) FinalizeSession(ctx context.Context, sessionID string, endedAt time.Time, minutesUsed int, reason ledger.EndReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	ended := endedAt
	rec.EndedAt = &ended
	rec.MinutesUsed = minutesUsed
	rec.EndReason = reason
	return nil
}

// Session returns a copy of a stored session record, or nil. Test helper.
func (s *Store) Session(sessionID string) *ledger.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	recCopy := *rec
	return &recCopy
}

// Period returns a copy of a stored period record, or nil. Test helper.
func (s *Store) Period(userID string, periodStart time.Time) *ledger.PeriodRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.periods[userID][periodKey(periodStart)]
	if !ok {
		return nil
	}
	recCopy := *rec
	return &recCopy
}

// SaveCount returns how many period writes have been accepted. Test helper.
func (s *Store) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
