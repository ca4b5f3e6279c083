package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalkit/portalkit/pkg/portal"
	"github.com/portalkit/portalkit/storage/memory"
)

func TestStorage_UserRoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	_, err := s.GetUser(ctx, "user1")
	assert.ErrorIs(t, err, portal.ErrUserNotFound)

	original := &portal.User{ID: "user1", Email: "user1@example.com"}
	require.NoError(t, s.PutUser(ctx, original))

	// Mutating the original must not affect stored state
	original.Email = "changed@example.com"

	user, err := s.GetUser(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, "user1@example.com", user.Email)

	// Mutating the returned copy must not affect stored state either
	user.SubscriptionStatus = portal.SubscriptionStatusActive
	again, _ := s.GetUser(ctx, "user1")
	assert.Empty(t, again.SubscriptionStatus)
}

func TestStorage_ApplyBillingPatch(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	err := s.ApplyBillingPatch(ctx, &portal.SubscriptionPatch{UserID: "missing"})
	assert.ErrorIs(t, err, portal.ErrUserNotFound)

	require.NoError(t, s.PutUser(ctx, &portal.User{ID: "user1"}))

	now := time.Now().UTC()
	require.NoError(t, s.ApplyBillingPatch(ctx, &portal.SubscriptionPatch{
		UserID:         "user1",
		SubscriptionID: "sub_1",
		Status:         portal.SubscriptionStatusActive,
		OccurredAt:     now,
	}))

	user, _ := s.GetUser(ctx, "user1")
	assert.Equal(t, "sub_1", user.SubscriptionID)
	assert.Equal(t, portal.SubscriptionStatusActive, user.SubscriptionStatus)
	assert.Equal(t, now, user.BillingUpdatedAt)

	// Clearing patch
	require.NoError(t, s.ApplyBillingPatch(ctx, &portal.SubscriptionPatch{
		UserID:     "user1",
		OccurredAt: now.Add(time.Minute),
	}))
	user, _ = s.GetUser(ctx, "user1")
	assert.Empty(t, user.SubscriptionID)
	assert.Empty(t, user.SubscriptionStatus)
}

func TestStorage_SetBillingCustomerID_WriteOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &portal.User{ID: "user1"}))

	id, err := s.SetBillingCustomerID(ctx, "user1", "cus_a")
	require.NoError(t, err)
	assert.Equal(t, "cus_a", id)

	id, err = s.SetBillingCustomerID(ctx, "user1", "cus_b")
	require.NoError(t, err)
	assert.Equal(t, "cus_a", id)

	_, err = s.SetBillingCustomerID(ctx, "missing", "cus_c")
	assert.ErrorIs(t, err, portal.ErrUserNotFound)
}

func TestStorage_EventDedup(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	event := &portal.BillingEvent{
		ID:         "evt_1",
		Type:       "customer.subscription.updated",
		OccurredAt: time.Now().UTC(),
		Payload:    []byte(`{}`),
	}
	require.NoError(t, s.RecordEvent(ctx, event))
	assert.ErrorIs(t, s.RecordEvent(ctx, event), portal.ErrDuplicateEvent)
	assert.Equal(t, 1, s.EventCount())

	seen, err := s.HasEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, _ = s.HasEvent(ctx, "evt_2")
	assert.False(t, seen)
}

func TestStorage_ConcurrentEventRecording(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	// Many goroutines racing on the same event id: exactly one wins
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RecordEvent(ctx, &portal.BillingEvent{
				ID:         "evt_race",
				Type:       "customer.subscription.updated",
				OccurredAt: time.Now().UTC(),
				Payload:    []byte(`{}`),
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, s.EventCount())
}

func TestStorage_Clear(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, &portal.User{ID: "user1"}))
	require.NoError(t, s.RecordEvent(ctx, &portal.BillingEvent{
		ID:         "evt_1",
		Type:       "t",
		OccurredAt: time.Now().UTC(),
		Payload:    []byte(`{}`),
	}))

	s.Clear()

	_, err := s.GetUser(ctx, "user1")
	assert.ErrorIs(t, err, portal.ErrUserNotFound)
	assert.Equal(t, 0, s.EventCount())
}
