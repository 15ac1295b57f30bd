package ledger

import (
	"time"
)

// Plan identifies a subscription tier.
type Plan string

const (
	// PlanFree is the default tier for users without a subscription.
	PlanFree Plan = "free"
	// PlanBasic is the entry-level paid tier.
	PlanBasic Plan = "basic"
	// PlanPro is the highest tier.
	PlanPro Plan = "pro"
)

// EndReason records why a practice session ended.
type EndReason string

const (
	// EndReasonUser means the client ended the session normally.
	EndReasonUser EndReason = "user_ended"
	// EndReasonLimit means the session was ended because the minute allowance ran out.
	EndReasonLimit EndReason = "limit_reached"
	// EndReasonStale means the session was reaped after heartbeats stopped arriving.
	EndReasonStale EndReason = "stale"
	// EndReasonError means the session was ended due to a client-reported error.
	EndReasonError EndReason = "error"
)

// ActiveSession is the single in-progress practice session for a user.
// At most one exists per user at any time.
type ActiveSession struct {
	ID            string
	StartedAt     time.Time
	LastHeartbeat time.Time

	// MinutesUsed is the elapsed time of this session rounded up to whole
	// minutes, as of the last heartbeat or read.
	MinutesUsed int

	Topic      string
	Difficulty string
	Mode       string
}

// UsageState is the authoritative in-memory quota state for one user.
// It is owned exclusively by that user's actor and mutated only there.
type UsageState struct {
	UserID       string
	Plan         Plan
	MinutesLimit int

	// MinutesUsed is cumulative consumed minutes for the current billing
	// period, excluding any in-progress session.
	MinutesUsed int

	// PeriodStart and PeriodEnd are the calendar-month billing window,
	// inclusive on both ends (UTC midnight of the first and last day).
	PeriodStart time.Time
	PeriodEnd   time.Time

	Session *ActiveSession

	// LastSyncedAt is the time of the last successful write-back, nil if the
	// state has never been flushed.
	LastSyncedAt *time.Time

	// Version increases on every state mutation. The durable store never
	// overwrites a row with an older version.
	Version int64
}

// PeriodRecord is the durable snapshot of a user's billing period, one row per
// user per calendar month. It is the write-back target and is only read to
// rehydrate a cold actor or for billing queries; it is never the source of
// truth while an actor is live.
type PeriodRecord struct {
	UserID       string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Plan         Plan
	MinutesUsed  int
	MinutesLimit int
	SyncedAt     time.Time
	Version      int64
	Archived     bool
}

// SessionRecord is the durable audit row for one session attempt. It is
// informational only; quota correctness does not depend on it.
type SessionRecord struct {
	ID          string
	UserID      string
	StartedAt   time.Time
	EndedAt     *time.Time
	MinutesUsed int
	Topic       string
	Difficulty  string
	Mode        string
	EndReason   EndReason
}

// CreditCheck is the result of a quota check.
type CreditCheck struct {
	// Allowed is true when the user has at least one minute remaining.
	Allowed bool

	// Remaining is the number of whole minutes left, clamped at 0.
	Remaining int

	// Reason is set when Allowed is false (e.g. "quota_exhausted").
	Reason string
}

// UsageStatus is a read-only projection of a user's quota standing.
type UsageStatus struct {
	UserID string `json:"user_id"`
	Plan   Plan   `json:"plan"`

	// MinutesUsed includes any in-progress session.
	MinutesUsed      int `json:"minutes_used"`
	MinutesRemaining int `json:"minutes_remaining"`
	MinutesLimit     int `json:"minutes_limit"`

	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	SessionActive bool `json:"session_active"`

	// PercentUsed is capped at 100.
	PercentUsed float64 `json:"percent_used"`
}

// StartOptions carries opaque context tags for a new session. The ledger
// stores them on the audit row but does not interpret them.
type StartOptions struct {
	Topic      string
	Difficulty string
	Mode       string
}

// StartResult is returned by a successful session start.
type StartResult struct {
	SessionID string
}

// HeartbeatResult reports session progress to the client. Exhaustion is
// surfaced as information only; the heartbeat never terminates the session.
type HeartbeatResult struct {
	MinutesUsed      int
	MinutesRemaining int

	// Warning is set when remaining minutes drop to the configured warning
	// threshold ("low_minutes") or to zero ("minutes_exhausted").
	Warning string
}

// EndResult is returned by session end. A duplicate or mismatched end yields
// zero minutes rather than an error.
type EndResult struct {
	MinutesUsed int
	Reason      EndReason
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock { return systemClock{} }

// Config holds ledger configuration.
type Config struct {
	// Policy maps plans to monthly minute allowances (default: DefaultPolicy).
	Policy PolicyTable

	// DefaultPlan is assigned to users seen before any explicit
	// initialization or billing event (default: PlanFree).
	DefaultPlan Plan

	// SyncInterval is the write-back cadence while a session is active
	// (default: 30s). Idle actors do not tick.
	SyncInterval time.Duration

	// StaleStartThreshold is how old the last heartbeat must be before a new
	// session start force-ends the previous one instead of rejecting
	// (default: 5m).
	StaleStartThreshold time.Duration

	// StaleReapThreshold is how old the last heartbeat must be before any
	// actor invocation reaps the session as abandoned (default: 10m).
	StaleReapThreshold time.Duration

	// WarnAtRemaining triggers the heartbeat low-quota warning when remaining
	// minutes drop to this value or below (default: 2).
	WarnAtRemaining int

	// IdleActorTTL is how long an actor with no active session may go
	// untouched before the directory evicts it (default: 30m, negative
	// disables eviction).
	IdleActorTTL time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks ledger operations (default: NoopMetrics).
	Metrics Metrics

	// Clock is the time source (default: SystemClock).
	Clock Clock
}

func (c Config) withDefaults() Config {
	if c.Policy == nil {
		c.Policy = DefaultPolicy()
	}
	if c.DefaultPlan == "" {
		c.DefaultPlan = PlanFree
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.StaleStartThreshold <= 0 {
		c.StaleStartThreshold = 5 * time.Minute
	}
	if c.StaleReapThreshold <= 0 {
		c.StaleReapThreshold = 10 * time.Minute
	}
	if c.WarnAtRemaining <= 0 {
		c.WarnAtRemaining = 2
	}
	if c.IdleActorTTL == 0 {
		c.IdleActorTTL = 30 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	return c
}
