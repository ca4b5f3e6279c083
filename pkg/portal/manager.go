package portal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds Manager configuration. All fields are optional.
type Config struct {
	// Logger receives structured logs for billing-state changes.
	// If nil, logging is disabled.
	Logger Logger

	// Metrics receives operational metrics.
	// If nil, metrics are silently ignored.
	Metrics Metrics
}

// Manager coordinates billing-state mutations against a Storage backend.
// It is the single write path for user subscription fields and the billing
// event trail; billing providers hold a Manager rather than raw storage.
type Manager struct {
	storage Storage
	logger  Logger
	metrics Metrics
}

// NewManager creates a new Manager on top of the given storage backend.
func NewManager(storage Storage, config *Config) (*Manager, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	logger := Logger(&NoopLogger{})
	metrics := Metrics(&NoopMetrics{})
	if config != nil {
		if config.Logger != nil {
			logger = config.Logger
		}
		if config.Metrics != nil {
			metrics = config.Metrics
		}
	}

	return &Manager{
		storage: storage,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// GetUser retrieves a user by internal id.
func (m *Manager) GetUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}

	start := time.Now()
	user, err := m.storage.GetUser(ctx, userID)
	m.metrics.RecordStorageOperation("get_user", time.Since(start), err)
	return user, err
}

// PutUser creates or replaces a user record.
func (m *Manager) PutUser(ctx context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	start := time.Now()
	err := m.storage.PutUser(ctx, user)
	m.metrics.RecordStorageOperation("put_user", time.Since(start), err)
	return err
}

// ApplySubscriptionPatch overwrites the user's subscription fields with the
// reconciliation outcome. The patch applies unconditionally: last write wins
// by arrival order, with no event-timestamp guard.
func (m *Manager) ApplySubscriptionPatch(ctx context.Context, patch *SubscriptionPatch) error {
	if patch == nil || patch.UserID == "" {
		return ErrInvalidPatch
	}

	// Read the prior status so the transition can be observed.
	previous := ""
	if existing, err := m.storage.GetUser(ctx, patch.UserID); err == nil {
		previous = existing.SubscriptionStatus
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	start := time.Now()
	err := m.storage.ApplyBillingPatch(ctx, patch)
	m.metrics.RecordStorageOperation("apply_billing_patch", time.Since(start), err)
	if err != nil {
		return err
	}

	if previous != patch.Status {
		m.metrics.RecordSubscriptionChange(previous, patch.Status)
	}
	m.logger.Info("subscription patch applied",
		Field{Key: "user_id", Value: patch.UserID},
		Field{Key: "subscription_id", Value: patch.SubscriptionID},
		Field{Key: "status", Value: patch.Status},
	)
	return nil
}

// SetBillingCustomerID persists a provider customer id for the user if none
// is stored yet and returns the authoritative id.
func (m *Manager) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if userID == "" || customerID == "" {
		return "", fmt.Errorf("user id and customer id are required")
	}

	start := time.Now()
	stored, err := m.storage.SetBillingCustomerID(ctx, userID, customerID)
	m.metrics.RecordStorageOperation("set_billing_customer_id", time.Since(start), err)
	if err != nil {
		return "", err
	}

	if stored != customerID {
		m.logger.Warn("billing customer id already set, keeping stored id",
			Field{Key: "user_id", Value: userID},
			Field{Key: "stored", Value: stored},
			Field{Key: "discarded", Value: customerID},
		)
	}
	return stored, nil
}

// RecordBillingEvent appends an event to the audit trail. ErrDuplicateEvent
// is returned unchanged so callers can acknowledge redeliveries as no-ops.
func (m *Manager) RecordBillingEvent(ctx context.Context, event *BillingEvent) error {
	if event == nil || event.ID == "" || event.Type == "" {
		return ErrInvalidEvent
	}

	start := time.Now()
	err := m.storage.RecordEvent(ctx, event)
	m.metrics.RecordStorageOperation("record_event", time.Since(start), err)
	if errors.Is(err, ErrDuplicateEvent) {
		m.metrics.RecordDuplicateEvent(event.Type)
		return err
	}
	if err != nil {
		return err
	}

	m.metrics.RecordEventStored(event.Type, event.LiveMode)
	return nil
}

// HasBillingEvent reports whether an event id was already recorded.
func (m *Manager) HasBillingEvent(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	start := time.Now()
	ok, err := m.storage.HasEvent(ctx, eventID)
	m.metrics.RecordStorageOperation("has_event", time.Since(start), err)
	return ok, err
}
