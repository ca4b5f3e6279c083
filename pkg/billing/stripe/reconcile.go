package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
)

// reconcileResult describes the outcome of reconciling one event.
type reconcileResult struct {
	// patch is nil when the event type required no user mutation.
	patch *portal.SubscriptionPatch

	// previousStatus is the user's status before the patch was applied.
	previousStatus string

	// applied is true once the patch has been written to storage.
	applied bool
}

// reconcileEvent dispatches an event to exactly one handler by type.
// Unrecognized types are accepted and ignored, preserving forward
// compatibility with event types Stripe adds later.
func (p *Provider) reconcileEvent(ctx context.Context, event *stripe.Event) (*reconcileResult, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	case "invoice.paid", "invoice.payment_succeeded":
		return p.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(event)
	default:
		return &reconcileResult{}, nil
	}
}

// handleSubscriptionChanged processes customer.subscription.created and
// customer.subscription.updated. The event object carries the full
// subscription, so no extra fetch is needed.
func (p *Provider) handleSubscriptionChanged(ctx context.Context, event *stripe.Event) (*reconcileResult, error) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	patch, err := subscriptionPatch(&subscription, event.Created)
	if err != nil {
		return nil, err
	}
	return p.applyPatch(ctx, patch)
}

// handleSubscriptionDeleted processes customer.subscription.deleted by
// clearing the user's subscription fields. A user without a status holds no
// entitlement.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) (*reconcileResult, error) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	patch, err := cancellationPatch(&subscription, event.Created)
	if err != nil {
		return nil, err
	}
	return p.applyPatch(ctx, patch)
}

// handleInvoicePaid processes invoice.paid (and its legacy alias
// invoice.payment_succeeded). The invoice does not carry the subscription
// status, so the referenced subscription is re-fetched from Stripe for the
// authoritative value.
func (p *Provider) handleInvoicePaid(ctx context.Context, event *stripe.Event) (*reconcileResult, error) {
	subscriptionID := invoiceSubscriptionID(event.Data.Raw)
	if subscriptionID == "" {
		// Not a subscription invoice.
		return &reconcileResult{}, nil
	}

	start := time.Now()
	sub, err := p.retrieveSubscription(ctx, subscriptionID)
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/retrieve", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/retrieve", "error")
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", subscriptionID, err)
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/retrieve", "success")

	patch, err := subscriptionPatch(sub, event.Created)
	if err != nil {
		return nil, err
	}
	return p.applyPatch(ctx, patch)
}

// handleInvoicePaymentFailed is deliberately a no-op for user state: the
// subscription stays as-is until Stripe cancels it or flips it to past_due,
// which arrives as a customer.subscription.updated event.
func (p *Provider) handleInvoicePaymentFailed(event *stripe.Event) (*reconcileResult, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}

	p.logger.Warn("invoice payment failed",
		portal.Field{Key: "invoice_id", Value: invoice.ID},
		portal.Field{Key: "event_id", Value: event.ID},
	)
	return &reconcileResult{}, nil
}

// applyPatch resolves the target user and writes the patch. The patch
// applies unconditionally: last write wins by arrival order.
func (p *Provider) applyPatch(ctx context.Context, patch *portal.SubscriptionPatch) (*reconcileResult, error) {
	user, err := p.manager.GetUser(ctx, patch.UserID)
	if err != nil {
		if errors.Is(err, portal.ErrUserNotFound) {
			return nil, fmt.Errorf("user %s: %w", patch.UserID, portal.ErrUserNotFound)
		}
		return nil, err
	}

	if err := p.manager.ApplySubscriptionPatch(ctx, patch); err != nil {
		return nil, err
	}

	return &reconcileResult{
		patch:          patch,
		previousStatus: user.SubscriptionStatus,
		applied:        true,
	}, nil
}

// subscriptionPatch maps a subscription object to the fields written onto
// the local user. The status is mirrored verbatim; no translation.
func subscriptionPatch(sub *stripe.Subscription, created int64) (*portal.SubscriptionPatch, error) {
	userID, err := subscriptionUserID(sub)
	if err != nil {
		return nil, err
	}
	return &portal.SubscriptionPatch{
		UserID:         userID,
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
		OccurredAt:     time.Unix(created, 0).UTC(),
	}, nil
}

// cancellationPatch clears both subscription fields.
func cancellationPatch(sub *stripe.Subscription, created int64) (*portal.SubscriptionPatch, error) {
	userID, err := subscriptionUserID(sub)
	if err != nil {
		return nil, err
	}
	return &portal.SubscriptionPatch{
		UserID:     userID,
		OccurredAt: time.Unix(created, 0).UTC(),
	}, nil
}

// subscriptionUserID extracts the internal user id from the subscription's
// metadata. The id is planted there by CheckoutURL and EnsureBillingCustomer.
func subscriptionUserID(sub *stripe.Subscription) (string, error) {
	if sub.Metadata != nil {
		if userID := sub.Metadata[metadataUserIDKey]; userID != "" {
			return userID, nil
		}
	}
	return "", fmt.Errorf("subscription %s: %w", sub.ID, billing.ErrMissingCorrelation)
}

// invoiceSubscriptionID digs the subscription reference out of the raw
// invoice JSON. Depending on API version it arrives as an id string or an
// expanded object.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return ""
	}
	switch v := data["subscription"].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}
