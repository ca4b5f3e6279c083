package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/portalkit/portalkit/pkg/billing"
	"github.com/portalkit/portalkit/pkg/billing/internal"
	"github.com/portalkit/portalkit/pkg/portal"
)

// handleWebhook is the webhook ingress: it verifies the signature against
// the raw body, reconciles the event onto the local user, and appends the
// event to the audit trail before acknowledging. Stripe retries on any
// non-2xx response, so only errors that are safe to reprocess return 5xx.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	// Signature covers the exact bytes, so the body must not be parsed
	// before verification.
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	ctx := r.Context()

	// A previously recorded event id means this delivery was already
	// processed; acknowledge without touching user state.
	seen, err := p.manager.HasBillingEvent(ctx, event.ID)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		p.metrics.RecordWebhookError(providerName, "store_read_failed")
		return
	}
	if seen {
		p.metrics.RecordWebhookEvent(providerName, eventType, "duplicate")
		p.ack(w)
		return
	}

	res, err := p.reconcileEvent(ctx, &event)
	var domainErr error
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMissingCorrelation), errors.Is(err, portal.ErrUserNotFound):
			// Data-integrity gap, not transient: the event is still
			// recorded for manual reconciliation and acknowledged so
			// Stripe does not retry forever.
			domainErr = err
			p.logger.Warn("webhook event could not be matched to a user",
				portal.Field{Key: "event_id", Value: event.ID},
				portal.Field{Key: "event_type", Value: eventType},
				portal.Field{Key: "error", Value: err.Error()},
			)
			p.metrics.RecordWebhookError(providerName, errorClass(err))
		case errors.Is(err, billing.ErrInvalidWebhookPayload):
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookEvent(providerName, eventType, "error")
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return
		default:
			// Storage or provider API failure. Nothing was recorded, so a
			// Stripe retry reprocesses the event safely.
			http.Error(w, "failed to process webhook", http.StatusInternalServerError)
			p.metrics.RecordWebhookEvent(providerName, eventType, "error")
			p.metrics.RecordWebhookError(providerName, "processing_error")
			p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
			return
		}
	}

	// Record the event before acknowledging; the audit trail is what makes
	// redelivery idempotent. Recorded regardless of domain errors above.
	record := &portal.BillingEvent{
		ID:         event.ID,
		Type:       eventType,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Payload:    json.RawMessage(body),
		LiveMode:   event.Livemode,
	}
	if err := p.manager.RecordBillingEvent(ctx, record); err != nil && !errors.Is(err, portal.ErrDuplicateEvent) {
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		p.metrics.RecordWebhookError(providerName, "store_write_failed")
		return
	}

	if domainErr == nil && res != nil && res.applied && p.onEvent != nil {
		p.onEvent(billing.WebhookEvent{
			UserID:         res.patch.UserID,
			PreviousStatus: res.previousStatus,
			NewStatus:      res.patch.Status,
			SubscriptionID: res.patch.SubscriptionID,
			Provider:       providerName,
			EventID:        event.ID,
			EventType:      eventType,
			EventTimestamp: record.OccurredAt,
			LiveMode:       event.Livemode,
		})
	}

	p.ack(w)

	status := "success"
	if domainErr != nil {
		status = "unmatched"
	} else if res == nil || res.patch == nil {
		status = "ignored"
	}
	p.metrics.RecordWebhookEvent(providerName, eventType, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

func (p *Provider) ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, billing.ErrMissingCorrelation):
		return "missing_correlation"
	case errors.Is(err, portal.ErrUserNotFound):
		return "user_not_found"
	default:
		return "processing_error"
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
