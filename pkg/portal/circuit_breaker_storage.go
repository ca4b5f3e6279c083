package portal

import (
	"context"
	"errors"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker
// protection. When the backend fails repeatedly the breaker opens and calls
// return ErrCircuitOpen immediately instead of piling up on a dead backend;
// webhook handlers surface that as a 5xx so the provider retries later.
//
// Domain errors (not found, duplicate event, invalid input) are answers from
// a healthy backend and do not count as failures.
type CircuitBreakerStorage struct {
	storage Storage
	breaker *Breaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
// A nil breaker gets the BreakerConfig defaults.
func NewCircuitBreakerStorage(storage Storage, breaker *Breaker) *CircuitBreakerStorage {
	if breaker == nil {
		breaker = NewBreaker(BreakerConfig{})
	}
	return &CircuitBreakerStorage{
		storage: storage,
		breaker: breaker,
	}
}

func (s *CircuitBreakerStorage) GetUser(ctx context.Context, userID string) (*User, error) {
	var user *User
	err := s.execute(ctx, func() error {
		var e error
		user, e = s.storage.GetUser(ctx, userID)
		return e
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *CircuitBreakerStorage) PutUser(ctx context.Context, user *User) error {
	return s.execute(ctx, func() error {
		return s.storage.PutUser(ctx, user)
	})
}

func (s *CircuitBreakerStorage) ApplyBillingPatch(ctx context.Context, patch *SubscriptionPatch) error {
	return s.execute(ctx, func() error {
		return s.storage.ApplyBillingPatch(ctx, patch)
	})
}

func (s *CircuitBreakerStorage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	var id string
	err := s.execute(ctx, func() error {
		var e error
		id, e = s.storage.SetBillingCustomerID(ctx, userID, customerID)
		return e
	})
	return id, err
}

func (s *CircuitBreakerStorage) RecordEvent(ctx context.Context, event *BillingEvent) error {
	return s.execute(ctx, func() error {
		return s.storage.RecordEvent(ctx, event)
	})
}

func (s *CircuitBreakerStorage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := s.execute(ctx, func() error {
		var e error
		seen, e = s.storage.HasEvent(ctx, eventID)
		return e
	})
	return seen, err
}

// execute runs fn through the breaker, shielding domain errors from the
// failure count and restoring them afterwards.
func (s *CircuitBreakerStorage) execute(ctx context.Context, fn func() error) error {
	var domainErr error
	err := s.breaker.Do(ctx, func() error {
		e := fn()
		if isDomainError(e) {
			domainErr = e
			return nil
		}
		return e
	})
	if err != nil {
		return err
	}
	return domainErr
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrInvalidPatch) ||
		errors.Is(err, ErrInvalidEvent)
}
