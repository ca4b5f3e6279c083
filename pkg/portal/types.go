// Package portal contains the core domain types for portalkit: portal users,
// their billing linkage to an external payments provider, and the append-only
// billing event trail used for webhook deduplication and audit.
package portal

import (
	"encoding/json"
	"time"
)

// Subscription statuses mirror the billing provider's lifecycle verbatim.
// The empty string means the user has no subscription and no entitlement.
const (
	SubscriptionStatusActive            = "active"
	SubscriptionStatusPastDue           = "past_due"
	SubscriptionStatusCanceled          = "canceled"
	SubscriptionStatusIncomplete        = "incomplete"
	SubscriptionStatusIncompleteExpired = "incomplete_expired"
	SubscriptionStatusTrialing          = "trialing"
	SubscriptionStatusUnpaid            = "unpaid"
	SubscriptionStatusPaused            = "paused"
)

// User is a portal account holder. Profile fields (Email, Name) are owned by
// the identity layer; this package only mutates the billing fields.
type User struct {
	// ID is the stable internal identifier.
	ID string

	// Email and Name are carried onto the provider-side customer record
	// when one is created. Never mutated here.
	Email string
	Name  string

	// BillingCustomerID is the provider-side customer id. Write-once: once
	// set it is never overwritten or re-derived.
	BillingCustomerID string

	// SubscriptionID is the provider-side id of the most recent
	// subscription. Overwritten on every create/update event, cleared on
	// cancellation.
	SubscriptionID string

	// SubscriptionStatus mirrors the provider's subscription status
	// exactly. Empty means no subscription and therefore no entitlement.
	SubscriptionStatus string

	// BillingUpdatedAt is when the billing fields last changed.
	BillingUpdatedAt time.Time
}

// Entitled reports whether the user currently holds a billing entitlement.
// An empty status grants nothing, and neither do terminal statuses: a
// subscription the provider reports as canceled, expired or unpaid has
// ended even if the clearing cancellation event has not arrived yet.
func (u *User) Entitled() bool {
	return u != nil && EntitledStatus(u.SubscriptionStatus)
}

// EntitledStatus reports whether a subscription status grants entitlement.
// Grace-period statuses (past_due, incomplete) still grant access; use
// AllowedStatuses on the middleware to restrict further.
func EntitledStatus(status string) bool {
	switch status {
	case "", SubscriptionStatusCanceled, SubscriptionStatusIncompleteExpired, SubscriptionStatusUnpaid:
		return false
	}
	return true
}

// SubscriptionPatch is the output of webhook reconciliation: the billing
// fields to write onto a user. A patch with empty SubscriptionID and Status
// clears the subscription (cancellation).
type SubscriptionPatch struct {
	UserID         string
	SubscriptionID string
	Status         string

	// OccurredAt is the provider-supplied event timestamp, recorded as
	// BillingUpdatedAt. Patches apply last-write-wins by arrival order; the
	// timestamp is informational, not a guard.
	OccurredAt time.Time
}

// BillingEvent is one inbound provider event, stored exactly once per
// provider event id. Records are never updated or deleted.
type BillingEvent struct {
	// ID is the provider's event identifier, the deduplication key.
	ID string

	// Type is the provider's event-type tag, e.g.
	// "customer.subscription.updated".
	Type string

	// OccurredAt is the provider-supplied creation time.
	OccurredAt time.Time

	// Payload is the full event body as delivered, including the object
	// snapshot and previous-attributes diff. Stored opaquely.
	Payload json.RawMessage

	// LiveMode distinguishes production traffic from test traffic.
	LiveMode bool
}
