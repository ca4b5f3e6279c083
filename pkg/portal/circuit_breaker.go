package portal

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the position of a storage circuit breaker.
type BreakerState uint8

const (
	// BreakerClosed: calls flow through normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen: calls fail fast with ErrCircuitOpen.
	BreakerOpen
	// BreakerHalfOpen: the cooldown has elapsed and one trial call is
	// allowed through to test the backend.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// BreakerConfig configures a Breaker. The zero value gets sane defaults.
type BreakerConfig struct {
	// Trip is the number of consecutive failures that opens the breaker.
	// Default: 5.
	Trip int

	// Cooldown is how long the breaker stays open before admitting a
	// trial call. Default: 30s.
	Cooldown time.Duration

	// OnStateChange, if set, is called with the old and new state on
	// every transition. Called while no internal lock is held.
	OnStateChange func(from, to BreakerState)
}

// Breaker is a consecutive-failure circuit breaker for storage backends.
// While open, calls fail fast; after the cooldown a single trial call is let
// through, and its outcome decides between closing and re-opening.
type Breaker struct {
	trip     int
	cooldown time.Duration
	notify   func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool
}

// NewBreaker creates a Breaker from config, applying defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		trip:     cfg.Trip,
		cooldown: cfg.Cooldown,
		notify:   cfg.OnStateChange,
	}
}

// Do runs fn under the breaker. Returns ErrCircuitOpen without calling fn
// when the breaker is open, or when a half-open trial call is already in flight.
func (b *Breaker) Do(_ context.Context, fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err == nil)
	return err
}

// State reports the breaker's current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		// Cooldown over: this caller becomes the trial call.
		b.state = BreakerHalfOpen
		b.trialing = true
		b.mu.Unlock()
		b.transitioned(BreakerOpen, BreakerHalfOpen)
		return nil
	case BreakerHalfOpen:
		if b.trialing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.trialing = true
	}

	b.mu.Unlock()
	return nil
}

func (b *Breaker) settle(ok bool) {
	b.mu.Lock()
	from := b.state

	switch {
	case ok:
		b.failures = 0
		b.trialing = false
		b.state = BreakerClosed
	case b.state == BreakerHalfOpen:
		// Trial call failed: back to open for another cooldown.
		b.trialing = false
		b.state = BreakerOpen
		b.openedAt = time.Now()
	default:
		b.failures++
		if b.failures >= b.trip {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	}

	to := b.state
	b.mu.Unlock()
	b.transitioned(from, to)
}

func (b *Breaker) transitioned(from, to BreakerState) {
	if from != to && b.notify != nil {
		b.notify(from, to)
	}
}
