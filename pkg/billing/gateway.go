package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// Action classifies a plan change relative to the user's current tier.
type Action string

const (
	// ActionUpgrade moves the user to a higher tier and restarts the billing
	// cycle with a fresh allowance.
	ActionUpgrade Action = "upgrade"
	// ActionDowngrade moves the user to a lower tier. Minutes already used
	// this period still count against the new, smaller allowance.
	ActionDowngrade Action = "downgrade"
	// ActionCancel drops the user to the lowest tier at the end of their
	// paid term. Usage is kept, same as a downgrade.
	ActionCancel Action = "cancel"
)

// PlanChange is a normalized billing event, provider-agnostic. Providers parse
// their webhook payloads into this shape and hand it to the Gateway.
type PlanChange struct {
	// UserID is the internal user identifier
	UserID string

	// Plan is the target plan. Ignored for ActionCancel, which always
	// targets the gateway's cancel plan.
	Plan ledger.Plan

	// Action is the kind of change
	Action Action

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type
	EventType string

	// EventTimestamp is when the event occurred (from the provider)
	EventTimestamp time.Time
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Ledger is the usage ledger directory (required)
	Ledger *ledger.Directory

	// CancelPlan is the plan a cancellation falls back to (default: free)
	CancelPlan ledger.Plan

	// Metrics is an optional metrics collector. If nil, a no-op is used.
	Metrics Metrics
}

// Gateway applies normalized billing events to the usage ledger. It is the
// single entry point for plan changes: webhook providers, admin tooling, and
// reconciliation jobs all go through Apply.
type Gateway struct {
	ledger     *ledger.Directory
	cancelPlan ledger.Plan
	metrics    Metrics
}

// NewGateway creates a plan update gateway on top of the given ledger.
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if config.Ledger == nil {
		return nil, ErrProviderNotConfigured
	}
	cancelPlan := config.CancelPlan
	if cancelPlan == "" {
		cancelPlan = ledger.PlanFree
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}
	return &Gateway{
		ledger:     config.Ledger,
		cancelPlan: cancelPlan,
		metrics:    metrics,
	}, nil
}

// CurrentPlan reports the plan a user is currently on. Providers use it to
// classify an incoming subscription change as upgrade or downgrade.
func (g *Gateway) CurrentPlan(ctx context.Context, userID string) (ledger.Plan, error) {
	status, err := g.ledger.Status(ctx, userID)
	if err != nil {
		return "", err
	}
	return status.Plan, nil
}

// Apply routes a plan change to the user's ledger actor. Unknown users are
// initialized on the spot, so a billing event arriving before first app use
// is not lost.
//
// Apply is safe to call with duplicate events: an upgrade to the plan the
// user is already on does not restart the billing cycle again.
func (g *Gateway) Apply(ctx context.Context, change PlanChange) error {
	if change.UserID == "" {
		return fmt.Errorf("plan change missing user id")
	}

	switch change.Action {
	case ActionUpgrade:
		current, err := g.ledger.Status(ctx, change.UserID)
		if err != nil {
			return fmt.Errorf("apply upgrade: %w", err)
		}
		if current.Plan == change.Plan {
			// Duplicate webhook delivery; the cycle was already reset
			return nil
		}
		if _, err := g.ledger.ChangePlan(ctx, change.UserID, change.Plan, true); err != nil {
			return fmt.Errorf("apply upgrade: %w", err)
		}
	case ActionDowngrade:
		if _, err := g.ledger.ChangePlan(ctx, change.UserID, change.Plan, false); err != nil {
			return fmt.Errorf("apply downgrade: %w", err)
		}
	case ActionCancel:
		if _, err := g.ledger.ChangePlan(ctx, change.UserID, g.cancelPlan, false); err != nil {
			return fmt.Errorf("apply cancel: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, change.Action)
	}

	g.metrics.RecordPlanChange(change.Provider, string(change.Action))
	return nil
}
