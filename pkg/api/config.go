package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/portal"
)

// CheckoutProvider is the provider surface the API needs beyond webhook
// handling: session URLs for the subscribe and manage flows.
type CheckoutProvider interface {
	billing.Provider

	// CheckoutURL returns a provider-hosted checkout URL for the price.
	CheckoutURL(ctx context.Context, userID, priceID, successURL, cancelURL string) (string, error)

	// PortalURL returns a provider-hosted subscription-management URL.
	PortalURL(ctx context.Context, userID, returnURL string) (string, error)
}

// Config holds configuration for the billing API handler
type Config struct {
	// Manager is the portal manager instance (required)
	Manager *portal.Manager

	// Provider is the billing provider the API fronts (required)
	Provider CheckoutProvider

	// GetUserID extracts the authenticated user id from an HTTP request
	// (required). Authentication itself is the identity layer's job.
	GetUserID func(*http.Request) string

	// Logger receives structured logs. If nil, logging is disabled.
	Logger portal.Logger

	// OnError handles errors (auth, internal, etc.)
	// If nil, a JSON error body with the matching status code is written.
	OnError func(http.ResponseWriter, *http.Request, error, int)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Provider == nil {
		return fmt.Errorf("provider is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new billing API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &portal.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// HeaderUserID returns a GetUserID extractor reading a trusted header,
// suitable behind an authenticating reverse proxy or gateway.
func HeaderUserID(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}
