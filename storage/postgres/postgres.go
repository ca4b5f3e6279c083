// Package postgres provides a PostgreSQL implementation of the
// portal.Storage interface. User billing fields are written with single
// UPDATE statements, so concurrent webhook deliveries for the same user are
// serialized by the database row lock; billing events rely on the primary
// key for exactly-once recording.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portalkit/portalkit/pkg/portal"
)

// pgUniqueViolation is the SQLSTATE code for unique constraint violations.
const pgUniqueViolation = "23505"

// Schema contains the DDL for the tables this adapter expects. Apply it with
// your migration tooling of choice.
const Schema = `
CREATE TABLE IF NOT EXISTS portal_users (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL DEFAULT '',
	billing_customer_id TEXT,
	subscription_id     TEXT,
	subscription_status TEXT,
	billing_updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS billing_events (
	id          TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL,
	live_mode   BOOLEAN NOT NULL DEFAULT FALSE,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Storage implements portal.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Migrate applies Schema. Convenient for development and examples; in
// production prefer your own migration tooling.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetUser implements portal.Storage
func (s *Storage) GetUser(ctx context.Context, userID string) (*portal.User, error) {
	var user portal.User
	var customerID, subscriptionID, subscriptionStatus *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, billing_customer_id, subscription_id, subscription_status, billing_updated_at
			FROM portal_users WHERE id = $1`,
		userID).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&customerID,
		&subscriptionID,
		&subscriptionStatus,
		&user.BillingUpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, portal.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if customerID != nil {
		user.BillingCustomerID = *customerID
	}
	if subscriptionID != nil {
		user.SubscriptionID = *subscriptionID
	}
	if subscriptionStatus != nil {
		user.SubscriptionStatus = *subscriptionStatus
	}
	return &user, nil
}

// PutUser implements portal.Storage
func (s *Storage) PutUser(ctx context.Context, user *portal.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO portal_users (id, email, name, billing_customer_id, subscription_id, subscription_status, billing_updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
			ON CONFLICT (id) DO UPDATE SET
				email = EXCLUDED.email,
				name = EXCLUDED.name,
				billing_customer_id = EXCLUDED.billing_customer_id,
				subscription_id = EXCLUDED.subscription_id,
				subscription_status = EXCLUDED.subscription_status,
				billing_updated_at = EXCLUDED.billing_updated_at`,
		user.ID, user.Email, user.Name,
		user.BillingCustomerID, user.SubscriptionID, user.SubscriptionStatus,
		normalizeTime(user.BillingUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

// ApplyBillingPatch implements portal.Storage. The single UPDATE makes the
// patch atomic per user row.
func (s *Storage) ApplyBillingPatch(ctx context.Context, patch *portal.SubscriptionPatch) error {
	if patch == nil || patch.UserID == "" {
		return portal.ErrInvalidPatch
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE portal_users
			SET subscription_id = NULLIF($2, ''),
				subscription_status = NULLIF($3, ''),
				billing_updated_at = $4
			WHERE id = $1`,
		patch.UserID, patch.SubscriptionID, patch.Status, normalizeTime(patch.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to apply billing patch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return portal.ErrUserNotFound
	}
	return nil
}

// SetBillingCustomerID implements portal.Storage. COALESCE keeps a stored id
// over the incoming one, so the field stays write-once even under
// cross-process races.
func (s *Storage) SetBillingCustomerID(ctx context.Context, userID, customerID string) (string, error) {
	if userID == "" || customerID == "" {
		return "", fmt.Errorf("user id and customer id are required")
	}

	var stored string
	err := s.pool.QueryRow(ctx,
		`UPDATE portal_users
			SET billing_customer_id = COALESCE(NULLIF(billing_customer_id, ''), $2)
			WHERE id = $1
			RETURNING billing_customer_id`,
		userID, customerID,
	).Scan(&stored)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", portal.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to set billing customer id: %w", err)
	}
	return stored, nil
}

// RecordEvent implements portal.Storage. The primary key on the provider
// event id turns redelivery into ErrDuplicateEvent.
func (s *Storage) RecordEvent(ctx context.Context, event *portal.BillingEvent) error {
	if event == nil || event.ID == "" || event.Type == "" {
		return portal.ErrInvalidEvent
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_events (id, event_type, occurred_at, payload, live_mode)
			VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Type, normalizeTime(event.OccurredAt), []byte(event.Payload), event.LiveMode,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return portal.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// HasEvent implements portal.Storage
func (s *Storage) HasEvent(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_events WHERE id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return exists, nil
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
