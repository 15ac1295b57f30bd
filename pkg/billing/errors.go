package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrUnknownAction is returned when a plan change carries an unrecognized action
	ErrUnknownAction = errors.New("unknown plan change action")

	// ErrPlanNotMapped is returned when a provider price or product has no plan mapping
	ErrPlanNotMapped = errors.New("price not mapped to a plan")
)
