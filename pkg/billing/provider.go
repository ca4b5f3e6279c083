package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface that any billing backend must implement.
// This keeps the portal core independent of the concrete payments system.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time
	// events. The implementation handles signature verification, parsing,
	// reconciliation and event recording internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's subscription state
	// from the provider into local storage. Used for manual repair and
	// periodic reconciliation jobs. Returns the resulting subscription
	// status and any error.
	SyncUser(ctx context.Context, userID string) (string, error)
}
