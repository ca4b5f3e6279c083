// Package stripe implements the billing.Provider interface on top of the
// Stripe API: webhook ingestion with signature verification, reconciliation
// of subscription state onto portal users, customer linking and checkout.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/singleflight"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/billing/internal"
	"github.com/portalkit/portalkit/pkg/portal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024

	// metadataUserIDKey is the metadata key carrying the internal user id
	// on Stripe customers, subscriptions and checkout sessions.
	metadataUserIDKey = "userId"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Manager, Logger, Metrics, OnEvent)

	// StripeAPIKey is the secret key for outbound Stripe API calls (sk_...).
	// Falls back to the embedded billing.Config APIKey when empty.
	StripeAPIKey string

	// StripeWebhookSecret is the endpoint signing secret (whsec_...).
	// Falls back to the embedded billing.Config WebhookSecret when empty.
	StripeWebhookSecret string
}

// apiKey resolves the outbound API key, preferring the Stripe-specific field.
func (c Config) apiKey() string {
	if key := strings.TrimSpace(c.StripeAPIKey); key != "" {
		return key
	}
	return strings.TrimSpace(c.Config.APIKey)
}

// webhookSecret resolves the signing secret, preferring the Stripe-specific field.
func (c Config) webhookSecret() string {
	if secret := strings.TrimSpace(c.StripeWebhookSecret); secret != "" {
		return secret
	}
	return strings.TrimSpace(c.Config.WebhookSecret)
}

// ConfigFromEnv reads the Stripe secrets from STRIPE_API_KEY and
// STRIPE_WEBHOOK_SECRET. Absence of either is a startup failure, not
// something to handle at request time.
func ConfigFromEnv() (Config, error) {
	apiKey := strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	webhookSecret := strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET"))
	if apiKey == "" {
		return Config{}, fmt.Errorf("STRIPE_API_KEY is not set: %w", billing.ErrProviderNotConfigured)
	}
	if webhookSecret == "" {
		return Config{}, fmt.Errorf("STRIPE_WEBHOOK_SECRET is not set: %w", billing.ErrProviderNotConfigured)
	}
	return Config{
		StripeAPIKey:        apiKey,
		StripeWebhookSecret: webhookSecret,
	}, nil
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	manager       *portal.Manager
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	logger        portal.Logger
	metrics       billing.Metrics
	onEvent       func(billing.WebhookEvent)

	// customerGroup collapses concurrent EnsureBillingCustomer calls for
	// the same user into a single Stripe customer creation.
	customerGroup singleflight.Group

	// Stripe API calls are routed through these hooks so tests can stub
	// them out without network access.
	retrieveSubscription    func(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	createCustomer          func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	searchCustomerID        func(ctx context.Context, userID string) (string, error)
	listActiveSubscriptions func(ctx context.Context, customerID string) ([]*stripe.Subscription, error)
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := config.apiKey()
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	logger := portal.Logger(&portal.NoopLogger{})
	if config.Logger != nil {
		logger = config.Logger
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	p := &Provider{
		manager:       config.Manager,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: []byte(config.webhookSecret()),
		apiKey:        apiKey,
		stripeClient:  stripe.NewClient(apiKey),
		logger:        logger,
		metrics:       metrics,
		onEvent:       config.OnEvent,
	}

	p.retrieveSubscription = func(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
		return p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	}
	p.createCustomer = func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
		return p.stripeClient.V1Customers.Create(ctx, params)
	}
	p.searchCustomerID = p.searchCustomerByMetadata
	p.listActiveSubscriptions = p.listActiveSubscriptionsFromAPI

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks, wrapped with
// per-IP rate limiting.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}
