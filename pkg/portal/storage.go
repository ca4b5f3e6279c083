package portal

import "context"

// Storage defines the persistence interface for portal users and the billing
// event trail. All methods use concrete types from this package to avoid
// import cycles.
//
// Implementations must serialize writes to a single user's billing fields:
// two concurrent ApplyBillingPatch calls for the same user must not lose an
// update. The backends in storage/ achieve this with a mutex (memory), a
// single UPDATE statement (postgres), single-key commands (redis), or a
// transaction (firestore).
type Storage interface {
	// GetUser retrieves a user by internal id.
	// Returns ErrUserNotFound if no such user exists.
	GetUser(ctx context.Context, userID string) (*User, error)

	// PutUser creates or replaces a user record. Used by the application
	// layer at signup and by tests; webhook reconciliation never creates
	// users.
	PutUser(ctx context.Context, user *User) error

	// ApplyBillingPatch overwrites the user's subscription fields with the
	// patch. An empty SubscriptionID and Status clears the subscription.
	// Returns ErrUserNotFound if the user does not exist.
	ApplyBillingPatch(ctx context.Context, patch *SubscriptionPatch) error

	// SetBillingCustomerID stores the provider customer id for a user if
	// none is set, and returns the id that is authoritative afterwards.
	// When another caller won the race the stored id is returned unchanged;
	// the field is write-once.
	SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error)

	// RecordEvent appends a billing event to the audit trail.
	// Returns ErrDuplicateEvent if an event with the same id exists.
	RecordEvent(ctx context.Context, event *BillingEvent) error

	// HasEvent reports whether an event with the given provider id was
	// already recorded.
	HasEvent(ctx context.Context, eventID string) (bool, error)
}
