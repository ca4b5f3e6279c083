// Package firestore provides a Firestore implementation of the
// portal.Storage interface. Billing patches run inside transactions so
// concurrent webhook deliveries for the same user serialize on the user
// document; event dedup uses document Create, which fails on an existing id.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/portalkit/portalkit/pkg/portal"
)

// Storage implements portal.Storage using Google Cloud Firestore
type Storage struct {
	client           *firestore.Client
	usersCollection  string
	eventsCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// UsersCollection is the Firestore collection for portal users
	// Default: "portal_users"
	UsersCollection string

	// EventsCollection is the Firestore collection for billing events
	// Default: "billing_events"
	EventsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.UsersCollection == "" {
		config.UsersCollection = "portal_users"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "billing_events"
	}

	return &Storage{
		client:           client,
		usersCollection:  config.UsersCollection,
		eventsCollection: config.EventsCollection,
	}, nil
}

// userDoc is the Firestore document shape for a user.
type userDoc struct {
	Email              string    `firestore:"email"`
	Name               string    `firestore:"name"`
	BillingCustomerID  string    `firestore:"billingCustomerId"`
	SubscriptionID     string    `firestore:"subscriptionId"`
	SubscriptionStatus string    `firestore:"subscriptionStatus"`
	BillingUpdatedAt   time.Time `firestore:"billingUpdatedAt"`
}

// eventDoc is the Firestore document shape for a billing event.
type eventDoc struct {
	Type       string    `firestore:"type"`
	OccurredAt time.Time `firestore:"occurredAt"`
	Payload    []byte    `firestore:"payload"`
	LiveMode   bool      `firestore:"liveMode"`
	RecordedAt time.Time `firestore:"recordedAt"`
}

// GetUser implements portal.Storage
func (s *Storage) GetUser(ctx context.Context, userID string) (*portal.User, error) {
	snap, err := s.client.Collection(s.usersCollection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, portal.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return doc.toUser(userID), nil
}

// PutUser implements portal.Storage
func (s *Storage) PutUser(ctx context.Context, user *portal.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	_, err := s.client.Collection(s.usersCollection).Doc(user.ID).Set(ctx, userDoc{
		Email:              user.Email,
		Name:               user.Name,
		BillingCustomerID:  user.BillingCustomerID,
		SubscriptionID:     user.SubscriptionID,
		SubscriptionStatus: user.SubscriptionStatus,
		BillingUpdatedAt:   user.BillingUpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

// ApplyBillingPatch implements portal.Storage
func (s *Storage) ApplyBillingPatch(ctx context.Context, patch *portal.SubscriptionPatch) error {
	if patch == nil || patch.UserID == "" {
		return portal.ErrInvalidPatch
	}

	ref := s.client.Collection(s.usersCollection).Doc(patch.UserID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "subscriptionId", Value: patch.SubscriptionID},
			{Path: "subscriptionStatus", Value: patch.Status},
			{Path: "billingUpdatedAt", Value: normalizeTime(patch.OccurredAt)},
		})
	})
	if status.Code(err) == codes.NotFound {
		return portal.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to apply billing patch: %w", err)
	}
	return nil
}

// SetBillingCustomerID implements portal.Storage. The transaction keeps the
// field write-once across concurrent callers.
func (s *Storage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if userID == "" || customerID == "" {
		return "", fmt.Errorf("user id and customer id are required")
	}

	ref := s.client.Collection(s.usersCollection).Doc(userID)
	stored := customerID
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.BillingCustomerID != "" {
			stored = doc.BillingCustomerID
			return nil
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "billingCustomerId", Value: customerID},
		})
	})
	if status.Code(err) == codes.NotFound {
		return "", portal.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to set billing customer id: %w", err)
	}
	return stored, nil
}

// RecordEvent implements portal.Storage. Create fails with AlreadyExists
// when the event id was recorded before.
func (s *Storage) RecordEvent(ctx context.Context, event *portal.BillingEvent) error {
	if event == nil || event.ID == "" || event.Type == "" {
		return portal.ErrInvalidEvent
	}

	_, err := s.client.Collection(s.eventsCollection).Doc(event.ID).Create(ctx, eventDoc{
		Type:       event.Type,
		OccurredAt: normalizeTime(event.OccurredAt),
		Payload:    []byte(event.Payload),
		LiveMode:   event.LiveMode,
		RecordedAt: time.Now().UTC(),
	})
	if status.Code(err) == codes.AlreadyExists {
		return portal.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// HasEvent implements portal.Storage
func (s *Storage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	_, err := s.client.Collection(s.eventsCollection).Doc(eventID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return true, nil
}

func (d *userDoc) toUser(userID string) *portal.User {
	return &portal.User{
		ID:                 userID,
		Email:              d.Email,
		Name:               d.Name,
		BillingCustomerID:  d.BillingCustomerID,
		SubscriptionID:     d.SubscriptionID,
		SubscriptionStatus: d.SubscriptionStatus,
		BillingUpdatedAt:   d.BillingUpdatedAt,
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
