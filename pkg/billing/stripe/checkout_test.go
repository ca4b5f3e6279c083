package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
)

func TestCheckoutURL_RequiresPriceID(t *testing.T) {
	ts := newTestSetup(t)

	_, err := ts.provider.CheckoutURL(context.Background(), testUserID, "", "https://example.com/ok", "https://example.com/cancel")
	if err == nil {
		t.Fatal("Expected error for empty price id")
	}
}

func TestCheckoutURL_UnknownUser(t *testing.T) {
	ts := newTestSetup(t)

	_, err := ts.provider.CheckoutURL(context.Background(), "no-such-user", "price_123", "https://example.com/ok", "https://example.com/cancel")
	if !errors.Is(err, portal.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestPortalURL_RequiresLinkedCustomer(t *testing.T) {
	ts := newTestSetup(t)

	_, err := ts.provider.PortalURL(context.Background(), testUserID, "https://example.com/account")
	if !errors.Is(err, billing.ErrCustomerNotFound) {
		t.Errorf("Expected ErrCustomerNotFound, got %v", err)
	}
}

func TestPortalURL_UnknownUser(t *testing.T) {
	ts := newTestSetup(t)

	_, err := ts.provider.PortalURL(context.Background(), "no-such-user", "https://example.com/account")
	if !errors.Is(err, portal.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}
