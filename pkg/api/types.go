package api

// SubscriptionResponse is the JSON shape returned by the subscription
// status endpoint.
type SubscriptionResponse struct {
	// SubscriptionID is the provider-side subscription id, empty when the
	// user has no subscription.
	SubscriptionID string `json:"subscriptionId,omitempty"`

	// Status mirrors the provider's subscription status verbatim.
	Status string `json:"status,omitempty"`

	// Entitled is false when Status is empty or terminal (canceled,
	// incomplete_expired, unpaid).
	Entitled bool `json:"entitled"`
}

// CheckoutRequest is the JSON body for the checkout endpoint.
type CheckoutRequest struct {
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// PortalRequest is the JSON body for the billing portal endpoint.
type PortalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

// RedirectResponse carries a provider-hosted URL to send the user to.
type RedirectResponse struct {
	URL string `json:"url"`
}

// SyncResponse is returned by the manual sync endpoint.
type SyncResponse struct {
	Status   string `json:"status,omitempty"`
	Entitled bool   `json:"entitled"`
}

// ErrorResponse is the JSON error shape.
type ErrorResponse struct {
	Error string `json:"error"`
}
