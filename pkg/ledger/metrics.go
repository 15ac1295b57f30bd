package ledger

import "time"

// Metrics defines the interface for tracking ledger operations.
type Metrics interface {
	// RecordCreditCheck records a quota check and its outcome.
	RecordCreditCheck(userID string, allowed bool)

	// RecordSessionStart records a session start attempt.
	RecordSessionStart(userID string, success bool)

	// RecordSessionEnd records a session end with its reason and billed minutes.
	RecordSessionEnd(userID string, reason EndReason, minutes int)

	// RecordHeartbeat records a session heartbeat.
	RecordHeartbeat(userID string)

	// RecordSync records a write-back attempt, its duration, and any error.
	RecordSync(userID string, duration time.Duration, err error)

	// RecordPlanChange records a plan transition.
	RecordPlanChange(userID string, from, to Plan)

	// RecordRehydration records an actor cold start; hit is true when a
	// durable record was found.
	RecordRehydration(userID string, hit bool)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCreditCheck(userID string, allowed bool)                  {}
func (n *NoopMetrics) RecordSessionStart(userID string, success bool)                 {}
func (n *NoopMetrics) RecordSessionEnd(userID string, reason EndReason, minutes int)  {}
func (n *NoopMetrics) RecordHeartbeat(userID string)                                  {}
func (n *NoopMetrics) RecordSync(userID string, duration time.Duration, err error)    {}
func (n *NoopMetrics) RecordPlanChange(userID string, from, to Plan)                  {}
func (n *NoopMetrics) RecordRehydration(userID string, hit bool)                      {}
