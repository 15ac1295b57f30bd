package ledger

import (
	"context"
	"time"
)

// Write-back synchronizer. The durable store trails actor memory by at most
// one sync interval while a session is active; session end, plan changes, and
// rollover flush immediately. Sync failures are logged and swallowed so
// durable I/O never blocks a credit check or surfaces to the caller.

func (a *actor) snapshot(archived bool) *PeriodRecord {
	return &PeriodRecord{
		UserID:       a.state.UserID,
		PeriodStart:  a.state.PeriodStart,
		PeriodEnd:    a.state.PeriodEnd,
		Plan:         a.state.Plan,
		MinutesUsed:  a.state.MinutesUsed,
		MinutesLimit: a.state.MinutesLimit,
		SyncedAt:     a.cfg.Clock.Now(),
		Version:      a.state.Version,
		Archived:     archived,
	}
}

func (a *actor) flush() {
	a.writeBack(a.snapshot(false))
}

func (a *actor) writeBack(rec *PeriodRecord) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	err := a.store.SavePeriod(ctx, rec)
	a.cfg.Metrics.RecordSync(a.userID, time.Since(start), err)
	if err != nil {
		// The next tick or state-changing event retries with a fresher
		// snapshot; nothing to do here beyond logging.
		a.cfg.Logger.Warn("usage write-back failed",
			Field{Key: "user_id", Value: a.userID},
			Field{Key: "period_start", Value: rec.PeriodStart.Format("2006-01-02")},
			Field{Key: "error", Value: err.Error()})
		return
	}
	now := a.cfg.Clock.Now()
	a.state.LastSyncedAt = &now
}

// onTick runs on the actor loop when the sync timer fires: flush, then reap
// or reschedule depending on session liveness.
func (a *actor) onTick() {
	if !a.initialized {
		return
	}
	a.flush()

	s := a.state.Session
	if s == nil {
		// Idle actors do not tick.
		return
	}
	now := a.cfg.Clock.Now()
	if now.Sub(s.LastHeartbeat) > a.cfg.StaleReapThreshold {
		a.reap(now)
		return
	}
	a.armTimer()
}

func (a *actor) armTimer() {
	if a.timer == nil {
		a.timer = time.NewTimer(a.cfg.SyncInterval)
	}
}

func (a *actor) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
