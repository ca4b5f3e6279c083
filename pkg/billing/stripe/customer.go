package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
)

// EnsureBillingCustomer resolves the Stripe customer id for a user, creating
// the customer on first need. The stored id is write-once: once a user has
// one it is returned without any external call.
//
// Concurrent calls for the same user are collapsed in-process with
// singleflight; a cross-process race is resolved by the storage layer, which
// keeps whichever id landed first and returns it to both callers.
func (p *Provider) EnsureBillingCustomer(ctx context.Context, userID string) (string, error) {
	user, err := p.manager.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.BillingCustomerID != "" {
		return user.BillingCustomerID, nil
	}

	v, err, _ := p.customerGroup.Do(userID, func() (interface{}, error) {
		return p.createAndLinkCustomer(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) createAndLinkCustomer(ctx context.Context, userID string) (string, error) {
	// Re-read under the flight: a writer may have finished between the
	// caller's fast-path check and here.
	user, err := p.manager.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.BillingCustomerID != "" {
		return user.BillingCustomerID, nil
	}

	params := &stripe.CustomerCreateParams{}
	if user.Email != "" {
		params.Email = stripe.String(user.Email)
	}
	if user.Name != "" {
		params.Name = stripe.String(user.Name)
	}
	// Back-reference so webhooks and the Search API can correlate the
	// customer to the internal user.
	params.AddMetadata(metadataUserIDKey, userID)

	start := time.Now()
	cust, err := p.createCustomer(ctx, params)
	p.metrics.RecordAPICallDuration(providerName, "/customers/create", time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/customers/create", "error")
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	p.metrics.RecordAPICall(providerName, "/customers/create", "success")

	stored, err := p.manager.SetBillingCustomerID(ctx, userID, cust.ID)
	if err != nil {
		return "", err
	}
	if stored != cust.ID {
		// Lost a cross-process race; the stored id wins and the customer
		// created here is orphaned on the Stripe side.
		p.logger.Warn("discarding stripe customer created in lost race",
			portal.Field{Key: "user_id", Value: userID},
			portal.Field{Key: "orphaned_customer_id", Value: cust.ID},
			portal.Field{Key: "stored_customer_id", Value: stored},
		)
	}
	return stored, nil
}

// searchCustomerByMetadata finds a customer by the userId metadata
// back-reference using the Stripe Search API. Slow path, used only when no
// customer id is stored locally.
func (p *Provider) searchCustomerByMetadata(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", metadataUserIDKey, userID)

	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("stripe search error: %w", err)
		}
		// The Search API can return partial matches; verify exactly.
		if cust.Metadata != nil && cust.Metadata[metadataUserIDKey] == userID {
			return cust.ID, nil
		}
	}

	return "", billing.ErrCustomerNotFound
}
