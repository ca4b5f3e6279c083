package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/portalkit/portalkit/pkg/billing"
)

// CheckoutURL creates a Stripe Checkout Session for a subscription to the
// given price and returns the URL to redirect the user to. The internal
// user id is planted in the subscription metadata so webhook reconciliation
// can correlate later events back to the user.
func (p *Provider) CheckoutURL(ctx context.Context, userID, priceID, successURL, cancelURL string) (string, error) {
	if priceID == "" {
		return "", fmt.Errorf("price id is required")
	}

	// The subscription flow needs a billing customer; create one lazily.
	customerID, err := p.EnsureBillingCustomer(ctx, userID)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "customer_resolution_failed")
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	// Metadata for the webhook handler: without this, subscription events
	// arrive with no way to find the local user.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserIDKey, userID)
	params.ClientReferenceID = stripe.String(userID)

	start := time.Now()
	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal session so the user can manage
// or cancel their subscription. Requires an existing billing customer.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	user, err := p.manager.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.BillingCustomerID == "" {
		return "", fmt.Errorf("user %s: %w", userID, billing.ErrCustomerNotFound)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(user.BillingCustomerID),
		ReturnURL: stripe.String(returnURL),
	}

	start := time.Now()
	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")

	return session.URL, nil
}
