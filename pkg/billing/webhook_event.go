package billing

import "time"

// WebhookEvent contains information about a successfully processed webhook
// event. It is passed to the OnEvent callback after the user's subscription
// fields have been updated and the event recorded.
type WebhookEvent struct {
	// UserID is the internal user identifier
	UserID string

	// PreviousStatus is the subscription status before the update
	// (empty string if the user had no subscription)
	PreviousStatus string

	// NewStatus is the subscription status after the update
	// (empty string after a cancellation)
	NewStatus string

	// SubscriptionID is the provider-side subscription id the event refers to
	SubscriptionID string

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventID is the provider's event identifier
	EventID string

	// EventType is the provider-specific event type,
	// e.g. "customer.subscription.updated"
	EventType string

	// EventTimestamp is when the event occurred (from the provider)
	EventTimestamp time.Time

	// LiveMode distinguishes production traffic from test traffic
	LiveMode bool
}
