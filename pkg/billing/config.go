package billing

import (
	"net/http"

	"github.com/portalkit/portalkit/pkg/portal"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Manager is the portal Manager whose users and event trail the
	// provider reconciles against (required).
	Manager *portal.Manager

	// WebhookSecret is used to verify incoming webhook requests.
	// Providers with their own secret field treat this as the default.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (subscription lookups, customer creation, SyncUser). Providers
	// with their own key field treat this as the default.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// Logger receives structured logs from the provider.
	// If nil, logging is disabled.
	Logger portal.Logger

	// Metrics is an optional metrics collector for billing operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// OnEvent, if set, is invoked after a webhook event has been
	// reconciled and recorded. Intended for audit hooks and
	// notifications; errors from the callback are not possible and
	// panics are not recovered.
	OnEvent func(WebhookEvent)
}
