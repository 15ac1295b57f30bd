package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/fluentvoice/usageledger/pkg/billing"
	"github.com/fluentvoice/usageledger/pkg/billing/internal"
	"github.com/fluentvoice/usageledger/pkg/ledger"
)

const userIDMetadataKey = "user_id"

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// Verify webhook signature (v83 uses stripe.ConstructEvent directly)
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent routes a verified event to its handler. Unknown event
// types are acknowledged and ignored so Stripe does not retry them.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	eventTimestamp := time.Unix(event.Created, 0)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionChange(ctx, event, eventTimestamp)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event, eventTimestamp)
	default:
		return nil
	}
}

// handleSubscriptionChange processes created and updated subscription events.
// A non-active subscription is treated as a cancellation; an active one is
// classified as upgrade or downgrade against the user's current plan.
func (p *Provider) handleSubscriptionChange(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID, err := extractUserID(&subscription)
	if err != nil {
		return fmt.Errorf("failed to extract user_id: %w", err)
	}

	if subscription.Status != stripe.SubscriptionStatusActive &&
		subscription.Status != stripe.SubscriptionStatusTrialing {
		return p.applyCancel(ctx, userID, event, eventTimestamp)
	}

	plan, ok := p.extractPlan(&subscription)
	if !ok {
		// A price outside the mapping is a dashboard product we do not
		// meter. Acknowledge so Stripe stops retrying.
		p.metrics.RecordWebhookError(providerName, "plan_not_mapped")
		return nil
	}

	current, err := p.gateway.CurrentPlan(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up current plan: %w", err)
	}

	action := billing.ActionUpgrade
	if p.rank(plan) < p.rank(current) {
		action = billing.ActionDowngrade
	}

	return p.gateway.Apply(ctx, billing.PlanChange{
		UserID:         userID,
		Plan:           plan,
		Action:         action,
		Provider:       providerName,
		EventType:      string(event.Type),
		EventTimestamp: eventTimestamp,
	})
}

// handleSubscriptionDeleted processes customer.subscription.deleted events
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID, err := extractUserID(&subscription)
	if err != nil {
		return fmt.Errorf("failed to extract user_id: %w", err)
	}

	return p.applyCancel(ctx, userID, event, eventTimestamp)
}

func (p *Provider) applyCancel(ctx context.Context, userID string, event *stripe.Event, eventTimestamp time.Time) error {
	return p.gateway.Apply(ctx, billing.PlanChange{
		UserID:         userID,
		Action:         billing.ActionCancel,
		Provider:       providerName,
		EventType:      string(event.Type),
		EventTimestamp: eventTimestamp,
	})
}

// extractUserID pulls the internal user ID from subscription metadata. The
// checkout flow sets it when the subscription is created, so a missing key
// means a subscription we did not create.
func extractUserID(subscription *stripe.Subscription) (string, error) {
	if userID, ok := subscription.Metadata[userIDMetadataKey]; ok && userID != "" {
		return userID, nil
	}
	return "", fmt.Errorf("subscription %s has no %s metadata", subscription.ID, userIDMetadataKey)
}

// extractPlan resolves the subscription's price items to a plan. A
// subscription with multiple mapped prices resolves to the highest-ranked one.
func (p *Provider) extractPlan(subscription *stripe.Subscription) (ledger.Plan, bool) {
	var best ledger.Plan
	found := false
	if subscription.Items == nil {
		return "", false
	}
	for _, item := range subscription.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		plan, ok := p.planForPrice(item.Price.ID)
		if !ok {
			continue
		}
		if !found || p.rank(plan) > p.rank(best) {
			best = plan
			found = true
		}
	}
	return best, found
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
