package billing

import "net/http"

// Provider is the generic interface that any billing backend must implement.
// This allows the application to swap one payment processor for another with
// zero logic changes.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, and gateway updates
	// internally.
	WebhookHandler() http.Handler
}
