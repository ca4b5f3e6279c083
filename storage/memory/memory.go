// Package memory provides an in-memory implementation of the portal.Storage
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/portalkit/portalkit/pkg/portal"
)

// Storage implements portal.Storage using in-memory maps. A single mutex
// serializes all writes, which also satisfies the per-user write
// serialization the interface requires.
type Storage struct {
	mu     sync.RWMutex
	users  map[string]*portal.User
	events map[string]*portal.BillingEvent
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users:  make(map[string]*portal.User),
		events: make(map[string]*portal.BillingEvent),
	}
}

// GetUser implements portal.Storage
func (s *Storage) GetUser(ctx context.Context, userID string) (*portal.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, portal.ErrUserNotFound
	}

	// Return a copy to prevent external mutations
	userCopy := *user
	return &userCopy, nil
}

// PutUser implements portal.Storage
func (s *Storage) PutUser(ctx context.Context, user *portal.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userCopy := *user
	s.users[user.ID] = &userCopy
	return nil
}

// ApplyBillingPatch implements portal.Storage
func (s *Storage) ApplyBillingPatch(ctx context.Context, patch *portal.SubscriptionPatch) error {
	if patch == nil || patch.UserID == "" {
		return portal.ErrInvalidPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[patch.UserID]
	if !ok {
		return portal.ErrUserNotFound
	}

	user.SubscriptionID = patch.SubscriptionID
	user.SubscriptionStatus = patch.Status
	user.BillingUpdatedAt = patch.OccurredAt
	return nil
}

// SetBillingCustomerID implements portal.Storage. The customer id is
// write-once: a stored id always wins.
func (s *Storage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if userID == "" || customerID == "" {
		return "", fmt.Errorf("user id and customer id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return "", portal.ErrUserNotFound
	}

	if user.BillingCustomerID != "" {
		return user.BillingCustomerID, nil
	}
	user.BillingCustomerID = customerID
	return customerID, nil
}

// RecordEvent implements portal.Storage
func (s *Storage) RecordEvent(ctx context.Context, event *portal.BillingEvent) error {
	if event == nil || event.ID == "" {
		return portal.ErrInvalidEvent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return portal.ErrDuplicateEvent
	}

	eventCopy := *event
	s.events[event.ID] = &eventCopy
	return nil
}

// HasEvent implements portal.Storage
func (s *Storage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[eventID]
	return ok, nil
}

// EventCount returns the number of recorded events (useful for testing)
func (s *Storage) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*portal.User)
	s.events = make(map[string]*portal.BillingEvent)
}
