// Package redis provides a Redis implementation of the portal.Storage
// interface. Users are stored as JSON values under one key per user; events
// are deduplicated with SETNX. The write-once customer id uses a small Lua
// script so the check and the write are one atomic operation.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portalkit/portalkit/pkg/portal"
)

// Storage implements portal.Storage using Redis
type Storage struct {
	client       redis.UniversalClient
	config       Config
	setCustomer  *redis.Script
	applyPatch   *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "portalkit:")
	KeyPrefix string

	// EventTTL is the TTL for billing event records (0 = no expiration).
	// Expiring events trades audit history for memory; dedup only holds
	// for as long as the record lives.
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "portalkit:",
		EventTTL:  0,
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "portalkit:"
	}

	s := &Storage{
		client: client,
		config: config,
	}

	// Keep stored customer id if present, otherwise write the new one.
	// Returns the authoritative id either way.
	s.setCustomer = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return redis.error_reply('user not found')
		end
		local user = cjson.decode(raw)
		if user.billing_customer_id and user.billing_customer_id ~= '' then
			return user.billing_customer_id
		end
		user.billing_customer_id = ARGV[1]
		redis.call('SET', KEYS[1], cjson.encode(user))
		return ARGV[1]
	`)

	// Read-modify-write of the subscription fields in one script, so
	// concurrent deliveries for the same user cannot interleave.
	s.applyPatch = redis.NewScript(`
		local raw = redis.call('GET', KEYS[1])
		if not raw then
			return redis.error_reply('user not found')
		end
		local user = cjson.decode(raw)
		user.subscription_id = ARGV[1]
		user.subscription_status = ARGV[2]
		user.billing_updated_at = ARGV[3]
		redis.call('SET', KEYS[1], cjson.encode(user))
		return 1
	`)

	return s, nil
}

// storedUser is the JSON shape kept in Redis. Empty strings stand in for
// the absent subscription fields.
type storedUser struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	Name               string `json:"name"`
	BillingCustomerID  string `json:"billing_customer_id"`
	SubscriptionID     string `json:"subscription_id"`
	SubscriptionStatus string `json:"subscription_status"`
	BillingUpdatedAt   string `json:"billing_updated_at"`
}

func (s *Storage) userKey(userID string) string {
	return s.config.KeyPrefix + "user:" + userID
}

func (s *Storage) eventKey(eventID string) string {
	return s.config.KeyPrefix + "event:" + eventID
}

// GetUser implements portal.Storage
func (s *Storage) GetUser(ctx context.Context, userID string) (*portal.User, error) {
	raw, err := s.client.Get(ctx, s.userKey(userID)).Result()
	if err == redis.Nil {
		return nil, portal.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var stored storedUser
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return stored.toUser(), nil
}

// PutUser implements portal.Storage
func (s *Storage) PutUser(ctx context.Context, user *portal.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	data, err := json.Marshal(fromUser(user))
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.client.Set(ctx, s.userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

// ApplyBillingPatch implements portal.Storage
func (s *Storage) ApplyBillingPatch(ctx context.Context, patch *portal.SubscriptionPatch) error {
	if patch == nil || patch.UserID == "" {
		return portal.ErrInvalidPatch
	}

	occurredAt := patch.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	err := s.applyPatch.Run(ctx, s.client,
		[]string{s.userKey(patch.UserID)},
		patch.SubscriptionID, patch.Status, occurredAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		if isUserNotFound(err) {
			return portal.ErrUserNotFound
		}
		return fmt.Errorf("failed to apply billing patch: %w", err)
	}
	return nil
}

// SetBillingCustomerID implements portal.Storage
func (s *Storage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if userID == "" || customerID == "" {
		return "", fmt.Errorf("user id and customer id are required")
	}

	stored, err := s.setCustomer.Run(ctx, s.client,
		[]string{s.userKey(userID)}, customerID,
	).Text()
	if err != nil {
		if isUserNotFound(err) {
			return "", portal.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to set billing customer id: %w", err)
	}
	return stored, nil
}

// RecordEvent implements portal.Storage. SETNX makes the event id the
// deduplication key.
func (s *Storage) RecordEvent(ctx context.Context, event *portal.BillingEvent) error {
	if event == nil || event.ID == "" || event.Type == "" {
		return portal.ErrInvalidEvent
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.eventKey(event.ID), data, s.config.EventTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if !ok {
		return portal.ErrDuplicateEvent
	}
	return nil
}

// HasEvent implements portal.Storage
func (s *Storage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return n > 0, nil
}

func (u *storedUser) toUser() *portal.User {
	user := &portal.User{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		BillingCustomerID:  u.BillingCustomerID,
		SubscriptionID:     u.SubscriptionID,
		SubscriptionStatus: u.SubscriptionStatus,
	}
	if u.BillingUpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, u.BillingUpdatedAt); err == nil {
			user.BillingUpdatedAt = t
		}
	}
	return user
}

func fromUser(user *portal.User) *storedUser {
	stored := &storedUser{
		ID:                 user.ID,
		Email:              user.Email,
		Name:               user.Name,
		BillingCustomerID:  user.BillingCustomerID,
		SubscriptionID:     user.SubscriptionID,
		SubscriptionStatus: user.SubscriptionStatus,
	}
	if !user.BillingUpdatedAt.IsZero() {
		stored.BillingUpdatedAt = user.BillingUpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return stored
}

func isUserNotFound(err error) bool {
	return err != nil && err.Error() == "user not found"
}
