package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
)

// SyncUser reconciles a user's subscription state from the Stripe API
// instead of waiting for a webhook. Used for manual repair (for example
// after an event landed with MissingCorrelation) and periodic jobs.
// Returns the resulting subscription status; empty means no subscription.
func (p *Provider) SyncUser(ctx context.Context, userID string) (string, error) {
	startTime := time.Now()

	user, err := p.manager.GetUser(ctx, userID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return "", err
	}

	customerID := user.BillingCustomerID
	if customerID == "" {
		// No stored link; fall back to the Search API back-reference.
		customerID, err = p.searchCustomerID(ctx, userID)
		if errors.Is(err, billing.ErrCustomerNotFound) {
			// The user has never touched billing. Clear any stale fields.
			return "", p.applySyncPatch(ctx, userID, nil, startTime)
		}
		if err != nil {
			p.metrics.RecordUserSync(providerName, "error")
			p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
			return "", err
		}
	}

	subs, err := p.listActiveSubscriptions(ctx, customerID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return "", fmt.Errorf("failed to list subscriptions: %w", err)
	}

	sub := mostRecentSubscription(subs)
	if err := p.applySyncPatch(ctx, userID, sub, startTime); err != nil {
		return "", err
	}
	if sub == nil {
		return "", nil
	}
	return string(sub.Status), nil
}

// applySyncPatch writes the authoritative state from the API onto the user.
// A nil subscription clears the billing fields.
func (p *Provider) applySyncPatch(ctx context.Context, userID string, sub *stripe.Subscription, startTime time.Time) error {
	patch := &portal.SubscriptionPatch{
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
	if sub != nil {
		patch.SubscriptionID = sub.ID
		patch.Status = string(sub.Status)
	}

	if err := p.manager.ApplySubscriptionPatch(ctx, patch); err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
		return err
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return nil
}

// listActiveSubscriptionsFromAPI fetches the customer's active
// subscriptions from Stripe.
func (p *Provider) listActiveSubscriptionsFromAPI(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(portal.SubscriptionStatusActive)

	start := time.Now()
	var subs []*stripe.Subscription
	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			return nil, err
		}
		subs = append(subs, sub)
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/list", time.Since(start))
	return subs, nil
}

// mostRecentSubscription picks the newest subscription when a customer
// somehow holds several.
func mostRecentSubscription(subs []*stripe.Subscription) *stripe.Subscription {
	var newest *stripe.Subscription
	for _, sub := range subs {
		if newest == nil || sub.Created > newest.Created {
			newest = sub
		}
	}
	return newest
}
