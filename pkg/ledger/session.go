package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session lifecycle: Idle -> Active -> Idle, one cycle per session. These
// methods run on the actor loop like everything else.

// StartSession begins a new session if the user is idle and has credits.
// An existing session whose last heartbeat is older than StaleStartThreshold
// is force-ended first; a fresher one rejects the start with
// ErrSessionConflict.
func (a *actor) StartSession(ctx context.Context, opts StartOptions) (StartResult, error) {
	var out StartResult
	var opErr error
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		a.ensureReady(now)

		if s := a.state.Session; s != nil {
			if now.Sub(s.LastHeartbeat) > a.cfg.StaleStartThreshold {
				a.finalize(s.LastHeartbeat, EndReasonStale)
			} else {
				opErr = ErrSessionConflict
				a.cfg.Metrics.RecordSessionStart(a.userID, false)
				return
			}
		}

		if chk := a.creditCheck(now); !chk.Allowed {
			opErr = ErrQuotaExhausted
			a.cfg.Metrics.RecordSessionStart(a.userID, false)
			return
		}

		s := &ActiveSession{
			ID:            uuid.NewString(),
			StartedAt:     now,
			LastHeartbeat: now,
			Topic:         opts.Topic,
			Difficulty:    opts.Difficulty,
			Mode:          opts.Mode,
		}
		a.state.Session = s
		a.state.Version++
		a.createSessionRecord(s)
		a.armTimer()
		a.cfg.Metrics.RecordSessionStart(a.userID, true)
		out = StartResult{SessionID: s.ID}
	})
	if err != nil {
		return StartResult{}, err
	}
	return out, opErr
}

// Heartbeat refreshes session liveness and reports progress. It never ends
// the session itself; exhaustion is information for the caller to act on.
func (a *actor) Heartbeat(ctx context.Context, sessionID string) (HeartbeatResult, error) {
	var out HeartbeatResult
	var opErr error
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		a.ensureReady(now)

		s := a.state.Session
		if s == nil || s.ID != sessionID {
			opErr = ErrSessionMismatch
			return
		}

		s.MinutesUsed = ceilMinutes(now.Sub(s.StartedAt))
		s.LastHeartbeat = now
		a.state.Version++
		a.cfg.Metrics.RecordHeartbeat(a.userID)

		remaining := a.state.MinutesLimit - (a.state.MinutesUsed + s.MinutesUsed)
		if remaining < 0 {
			remaining = 0
		}
		out = HeartbeatResult{MinutesUsed: s.MinutesUsed, MinutesRemaining: remaining}
		if remaining == 0 {
			out.Warning = "minutes_exhausted"
		} else if remaining <= a.cfg.WarnAtRemaining {
			out.Warning = "low_minutes"
		}
	})
	if err != nil {
		return HeartbeatResult{}, err
	}
	return out, opErr
}

// EndSession finalizes the active session. Ending an unknown or already-ended
// session is not an error: session end races with reaps and client retries,
// so a mismatch returns zero minutes instead.
func (a *actor) EndSession(ctx context.Context, sessionID string, reason EndReason) (EndResult, error) {
	var out EndResult
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		a.ensureReady(now)

		s := a.state.Session
		if s == nil || s.ID != sessionID {
			out = EndResult{MinutesUsed: 0}
			return
		}
		if reason == "" {
			reason = EndReasonUser
		}
		minutes := a.finalize(now, reason)
		out = EndResult{MinutesUsed: minutes, Reason: reason}
	})
	return out, err
}

// finalize closes the active session: bill its minutes (round up, minimum
// one), fold them into the period total, and flush immediately. Session end
// is the authoritative billing event, so it never waits for the timer.
func (a *actor) finalize(endAt time.Time, reason EndReason) int {
	s := a.state.Session
	minutes := billedMinutes(endAt.Sub(s.StartedAt))
	a.state.MinutesUsed += minutes
	a.state.Session = nil
	a.state.Version++
	a.stopTimer()
	a.flush()
	a.finalizeSessionRecord(s.ID, endAt, minutes, reason)
	a.cfg.Metrics.RecordSessionEnd(a.userID, reason, minutes)
	return minutes
}

// reap force-ends a session whose heartbeats stopped arriving. Minutes are
// billed up to the last heartbeat, not the reap time, so abandoned dead air
// is not charged.
func (a *actor) reap(now time.Time) {
	s := a.state.Session
	a.cfg.Logger.Info("reaping stale session",
		Field{Key: "user_id", Value: a.userID},
		Field{Key: "session_id", Value: s.ID},
		Field{Key: "heartbeat_age", Value: now.Sub(s.LastHeartbeat).String()})
	a.finalize(s.LastHeartbeat, EndReasonStale)
}

func (a *actor) liveSessionMinutes(now time.Time) int {
	if a.state.Session == nil {
		return 0
	}
	return ceilMinutes(now.Sub(a.state.Session.StartedAt))
}

// createSessionRecord inserts the audit row for a new session. Audit writes
// never block or fail the session path.
func (a *actor) createSessionRecord(s *ActiveSession) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	rec := &SessionRecord{
		ID:         s.ID,
		UserID:     a.userID,
		StartedAt:  s.StartedAt,
		Topic:      s.Topic,
		Difficulty: s.Difficulty,
		Mode:       s.Mode,
	}
	if err := a.store.CreateSession(ctx, rec); err != nil {
		a.cfg.Logger.Warn("session audit insert failed",
			Field{Key: "user_id", Value: a.userID},
			Field{Key: "session_id", Value: s.ID},
			Field{Key: "error", Value: err.Error()})
	}
}

func (a *actor) finalizeSessionRecord(id string, endedAt time.Time, minutes int, reason EndReason) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()
	if err := a.store.FinalizeSession(ctx, id, endedAt, minutes, reason); err != nil {
		a.cfg.Logger.Warn("session audit finalize failed",
			Field{Key: "user_id", Value: a.userID},
			Field{Key: "session_id", Value: id},
			Field{Key: "error", Value: err.Error()})
	}
}
