package portal_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalkit/portalkit/pkg/portal"
	"github.com/portalkit/portalkit/storage/memory"
)

func TestBreaker(t *testing.T) {
	threshold := 3
	timeout := 100 * time.Millisecond
	var lastState portal.BreakerState
	cb := portal.NewBreaker(portal.BreakerConfig{
		Trip:     threshold,
		Cooldown: timeout,
		OnStateChange: func(_, to portal.BreakerState) {
			lastState = to
		},
	})

	ctx := context.Background()

	// Initial state: Closed
	assert.Equal(t, portal.BreakerClosed, cb.State())

	// Record some failures
	for i := 0; i < threshold-1; i++ {
		err := cb.Do(ctx, func() error {
			return errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, portal.BreakerClosed, cb.State())
	}

	// Next failure should open the circuit
	err := cb.Do(ctx, func() error {
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, portal.BreakerOpen, cb.State())
	assert.Equal(t, portal.BreakerOpen, lastState)

	// When open, Do should fail fast
	err = cb.Do(ctx, func() error {
		return nil
	})
	assert.ErrorIs(t, err, portal.ErrCircuitOpen)

	// Wait for reset timeout
	time.Sleep(timeout + 10*time.Millisecond)

	// State should be Half-Open (via getter)
	assert.Equal(t, portal.BreakerHalfOpen, cb.State())

	// Successful execute in half-open should close the circuit
	err = cb.Do(ctx, func() error {
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, portal.BreakerClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	timeout := 50 * time.Millisecond
	cb := portal.NewBreaker(portal.BreakerConfig{Trip: 1, Cooldown: timeout})
	ctx := context.Background()

	_ = cb.Do(ctx, func() error { return errors.New("fail") })
	assert.Equal(t, portal.BreakerOpen, cb.State())

	time.Sleep(timeout + 10*time.Millisecond)
	assert.Equal(t, portal.BreakerHalfOpen, cb.State())

	// A failure in half-open reopens immediately
	_ = cb.Do(ctx, func() error { return errors.New("fail") })
	assert.Equal(t, portal.BreakerOpen, cb.State())
}

func TestBreaker_HalfOpenAdmitsOneCall(t *testing.T) {
	timeout := 50 * time.Millisecond
	cb := portal.NewBreaker(portal.BreakerConfig{Trip: 1, Cooldown: timeout})
	ctx := context.Background()

	_ = cb.Do(ctx, func() error { return errors.New("fail") })
	time.Sleep(timeout + 10*time.Millisecond)

	// First call after the cooldown is admitted; while it is in flight
	// every other call is rejected.
	inFlight := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Do(ctx, func() error {
			close(inFlight)
			<-release
			return nil
		})
	}()

	<-inFlight
	err := cb.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, portal.ErrCircuitOpen)

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, portal.BreakerClosed, cb.State())
}

func TestBreaker_Concurrent(t *testing.T) {
	cb := portal.NewBreaker(portal.BreakerConfig{Trip: 100, Cooldown: time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Do(ctx, func() error {
				if i%2 == 0 {
					return errors.New("fail")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()

	// Successes reset the failure count, so the breaker must still be closed
	assert.Equal(t, portal.BreakerClosed, cb.State())
}

// failingStorage fails every call until healthy is flipped.
type failingStorage struct {
	healthy bool
	inner   portal.Storage
}

func (f *failingStorage) err() error {
	if f.healthy {
		return nil
	}
	return errors.New("backend down")
}

func (f *failingStorage) GetUser(ctx context.Context, userID string) (*portal.User, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.inner.GetUser(ctx, userID)
}

func (f *failingStorage) PutUser(ctx context.Context, user *portal.User) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.inner.PutUser(ctx, user)
}

func (f *failingStorage) ApplyBillingPatch(ctx context.Context, patch *portal.SubscriptionPatch) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.inner.ApplyBillingPatch(ctx, patch)
}

func (f *failingStorage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if err := f.err(); err != nil {
		return "", err
	}
	return f.inner.SetBillingCustomerID(ctx, userID, customerID)
}

func (f *failingStorage) RecordEvent(ctx context.Context, event *portal.BillingEvent) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.inner.RecordEvent(ctx, event)
}

func (f *failingStorage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	if err := f.err(); err != nil {
		return false, err
	}
	return f.inner.HasEvent(ctx, eventID)
}

func TestCircuitBreakerStorage_OpensOnFailures(t *testing.T) {
	backend := &failingStorage{healthy: false, inner: memory.New()}
	cb := portal.NewBreaker(portal.BreakerConfig{Trip: 3, Cooldown: time.Minute})
	storage := portal.NewCircuitBreakerStorage(backend, cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := storage.GetUser(ctx, "user1")
		assert.Error(t, err)
	}
	assert.Equal(t, portal.BreakerOpen, cb.State())

	// Further calls fail fast without reaching the backend
	_, err := storage.GetUser(ctx, "user1")
	assert.ErrorIs(t, err, portal.ErrCircuitOpen)
}

func TestCircuitBreakerStorage_DomainErrorsDoNotTrip(t *testing.T) {
	backend := &failingStorage{healthy: true, inner: memory.New()}
	cb := portal.NewBreaker(portal.BreakerConfig{Trip: 2, Cooldown: time.Minute})
	storage := portal.NewCircuitBreakerStorage(backend, cb)
	ctx := context.Background()

	// Missing users and duplicate events are answers, not outages
	for i := 0; i < 10; i++ {
		_, err := storage.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, portal.ErrUserNotFound)
	}

	require.NoError(t, storage.PutUser(ctx, &portal.User{ID: "user1"}))
	event := &portal.BillingEvent{
		ID:         "evt_1",
		Type:       "customer.subscription.updated",
		OccurredAt: time.Now().UTC(),
		Payload:    []byte(`{}`),
	}
	require.NoError(t, storage.RecordEvent(ctx, event))
	err := storage.RecordEvent(ctx, event)
	assert.ErrorIs(t, err, portal.ErrDuplicateEvent)

	assert.Equal(t, portal.BreakerClosed, cb.State())
}

func TestCircuitBreakerStorage_RecoversAfterTimeout(t *testing.T) {
	backend := &failingStorage{healthy: false, inner: memory.New()}
	cb := portal.NewBreaker(portal.BreakerConfig{Trip: 1, Cooldown: 50 * time.Millisecond})
	storage := portal.NewCircuitBreakerStorage(backend, cb)
	ctx := context.Background()

	require.NoError(t, backend.inner.PutUser(ctx, &portal.User{ID: "user1"}))

	_, err := storage.GetUser(ctx, "user1")
	assert.Error(t, err)
	assert.Equal(t, portal.BreakerOpen, cb.State())

	// Backend comes back; after the reset timeout the half-open trial call
	// succeeds and the breaker closes
	backend.healthy = true
	time.Sleep(60 * time.Millisecond)

	user, err := storage.GetUser(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "user1", user.ID)
	assert.Equal(t, portal.BreakerClosed, cb.State())
}
