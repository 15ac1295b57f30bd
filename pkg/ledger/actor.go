package ledger

import (
	"context"
	"sync"
	"time"
)

const (
	rehydrateTimeout = 10 * time.Second
	syncTimeout      = 5 * time.Second
)

// actor owns the UsageState for a single user. All operations are funneled
// through the inbox and executed one at a time by the run loop, so no two
// operations for the same user ever run concurrently. Rehydration runs before
// the loop starts consuming the inbox, which gives every queued operation the
// cold-start barrier for free.
type actor struct {
	userID string
	cfg    Config
	store  Store

	inbox     chan func()
	closed    chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the run loop.
	state       UsageState
	initialized bool
	timer       *time.Timer
}

func newActor(userID string, store Store, cfg Config) *actor {
	a := &actor{
		userID: userID,
		cfg:    cfg,
		store:  store,
		inbox:  make(chan func(), 16),
		closed: make(chan struct{}),
		exited: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	a.rehydrate()
	for {
		var tick <-chan time.Time
		if a.timer != nil {
			tick = a.timer.C
		}
		select {
		case fn := <-a.inbox:
			fn()
		case <-tick:
			a.timer = nil
			a.onTick()
		case <-a.closed:
			a.stopTimer()
			if a.initialized {
				a.flush()
			}
			close(a.exited)
			return
		}
	}
}

// do runs fn on the actor loop and waits for it to finish. The context is
// honored while waiting for inbox space; once enqueued, fn always runs to
// completion unless the actor shuts down first.
func (a *actor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case a.inbox <- wrapped:
	case <-a.closed:
		return ErrActorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.exited:
		return ErrActorClosed
	}
}

func (a *actor) close() {
	a.closeOnce.Do(func() { close(a.closed) })
}

func (a *actor) closeAndWait(ctx context.Context) error {
	a.close()
	select {
	case <-a.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rehydrate loads the most recent non-archived period record, if any. A load
// failure starts the actor cold; a billing-record gap is preferable to
// refusing service.
func (a *actor) rehydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), rehydrateTimeout)
	defer cancel()

	rec, err := a.store.LoadCurrentPeriod(ctx, a.userID)
	if err != nil {
		a.cfg.Logger.Error("rehydration failed, starting cold",
			Field{Key: "user_id", Value: a.userID},
			Field{Key: "error", Value: err.Error()})
		a.cfg.Metrics.RecordRehydration(a.userID, false)
		return
	}
	if rec == nil {
		a.cfg.Metrics.RecordRehydration(a.userID, false)
		return
	}

	syncedAt := rec.SyncedAt
	a.state = UsageState{
		UserID:       rec.UserID,
		Plan:         rec.Plan,
		MinutesLimit: rec.MinutesLimit,
		MinutesUsed:  rec.MinutesUsed,
		PeriodStart:  rec.PeriodStart,
		PeriodEnd:    rec.PeriodEnd,
		LastSyncedAt: &syncedAt,
		Version:      rec.Version,
	}
	// The policy table, not the stored row, is authoritative for limits.
	if limit, ok := a.cfg.Policy.MinutesFor(rec.Plan); ok {
		a.state.MinutesLimit = limit
	}
	a.initialized = true
	a.cfg.Metrics.RecordRehydration(a.userID, true)
}

// ensureReady is the preamble every operation runs under the loop: lazy
// default initialization, period rollover, then stale-session reaping.
func (a *actor) ensureReady(now time.Time) {
	if !a.initialized {
		a.initState(a.cfg.DefaultPlan, now)
		a.flush()
		return
	}
	if periodExpired(now, a.state.PeriodEnd) {
		a.rollover(now)
	}
	if s := a.state.Session; s != nil && now.Sub(s.LastHeartbeat) > a.cfg.StaleReapThreshold {
		a.reap(now)
	}
}

func (a *actor) initState(plan Plan, now time.Time) {
	limit, ok := a.cfg.Policy.MinutesFor(plan)
	if !ok {
		a.cfg.Logger.Warn("plan missing from policy table",
			Field{Key: "user_id", Value: a.userID},
			Field{Key: "plan", Value: string(plan)})
	}
	start, end := CurrentPeriod(now)
	a.state = UsageState{
		UserID:       a.userID,
		Plan:         plan,
		MinutesLimit: limit,
		PeriodStart:  start,
		PeriodEnd:    end,
		Version:      1,
	}
	a.initialized = true
}

// rollover archives the closed period and begins a fresh one. Minutes never
// roll over between periods.
func (a *actor) rollover(now time.Time) {
	a.writeBack(a.snapshot(true))

	start, end := CurrentPeriod(now)
	a.state.PeriodStart = start
	a.state.PeriodEnd = end
	a.state.MinutesUsed = 0
	a.state.Version++
	a.flush()

	a.cfg.Logger.Info("billing period rolled over",
		Field{Key: "user_id", Value: a.userID},
		Field{Key: "period_start", Value: start.Format("2006-01-02")})
}

func (a *actor) creditCheck(now time.Time) CreditCheck {
	remaining := a.state.MinutesLimit - (a.state.MinutesUsed + a.liveSessionMinutes(now))
	if remaining < 0 {
		remaining = 0
	}
	chk := CreditCheck{Allowed: remaining > 0, Remaining: remaining}
	if !chk.Allowed {
		chk.Reason = "quota_exhausted"
	}
	return chk
}

func (a *actor) status(now time.Time) UsageStatus {
	total := a.state.MinutesUsed + a.liveSessionMinutes(now)
	remaining := a.state.MinutesLimit - total
	if remaining < 0 {
		remaining = 0
	}
	pct := 100.0
	if a.state.MinutesLimit > 0 {
		pct = float64(total) / float64(a.state.MinutesLimit) * 100
		if pct > 100 {
			pct = 100
		}
	} else if total == 0 {
		pct = 0
	}
	return UsageStatus{
		UserID:           a.userID,
		Plan:             a.state.Plan,
		MinutesUsed:      total,
		MinutesRemaining: remaining,
		MinutesLimit:     a.state.MinutesLimit,
		PeriodStart:      a.state.PeriodStart,
		PeriodEnd:        a.state.PeriodEnd,
		SessionActive:    a.state.Session != nil,
		PercentUsed:      pct,
	}
}

// Serialized operations. Each sends a closure into the run loop and waits.

func (a *actor) Initialize(ctx context.Context, plan Plan) (UsageStatus, error) {
	var out UsageStatus
	var opErr error
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		if a.initialized {
			// Idempotent guard: report current standing.
			a.ensureReady(now)
			out = a.status(now)
			return
		}
		if !a.cfg.Policy.Valid(plan) {
			opErr = ErrInvalidPlan
			return
		}
		a.initState(plan, now)
		a.flush()
		out = a.status(now)
	})
	if err != nil {
		return UsageStatus{}, err
	}
	return out, opErr
}

func (a *actor) HasCredits(ctx context.Context) (CreditCheck, error) {
	var out CreditCheck
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		a.ensureReady(now)
		out = a.creditCheck(now)
		a.cfg.Metrics.RecordCreditCheck(a.userID, out.Allowed)
	})
	return out, err
}

func (a *actor) Status(ctx context.Context) (UsageStatus, error) {
	var out UsageStatus
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		a.ensureReady(now)
		out = a.status(now)
	})
	return out, err
}

// ChangePlan applies a plan upgrade or downgrade. The new limit takes effect
// on the very next credit check. When resetUsage is true the billing cycle
// restarts with zero usage, used for paid upgrades.
func (a *actor) ChangePlan(ctx context.Context, plan Plan, resetUsage bool) (UsageStatus, error) {
	var out UsageStatus
	var opErr error
	err := a.do(ctx, func() {
		now := a.cfg.Clock.Now()
		a.ensureReady(now)
		if !a.cfg.Policy.Valid(plan) {
			opErr = ErrInvalidPlan
			return
		}
		from := a.state.Plan
		limit, _ := a.cfg.Policy.MinutesFor(plan)
		a.state.Plan = plan
		a.state.MinutesLimit = limit
		if resetUsage {
			start, end := CurrentPeriod(now)
			a.state.PeriodStart = start
			a.state.PeriodEnd = end
			a.state.MinutesUsed = 0
		}
		a.state.Version++
		// Billing-sensitive event: flush now, not on the next tick.
		a.flush()
		a.cfg.Metrics.RecordPlanChange(a.userID, from, plan)
		out = a.status(now)
	})
	if err != nil {
		return UsageStatus{}, err
	}
	return out, opErr
}

// idle reports whether the actor has no active session. Used by the directory
// sweeper to pick eviction candidates.
func (a *actor) idle(ctx context.Context) (bool, error) {
	var out bool
	err := a.do(ctx, func() {
		out = a.state.Session == nil
	})
	return out, err
}
