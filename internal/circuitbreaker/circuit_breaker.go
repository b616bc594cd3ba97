// Package circuitbreaker implements a per-feed circuit breaker. A run of
// consecutive failures opens the circuit; after a cool-down a single trial
// request probes the feed before the circuit fully closes again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alert-engine/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means requests flow normally
	StateClosed State = "closed"
	// StateOpen means requests fail fast
	StateOpen State = "open"
	// StateHalfOpen means one trial request is probing the feed
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the circuit is open and the request fails fast.
var ErrOpen = errors.New("circuit breaker is open")

// ErrProbeInFlight is returned when a half-open circuit already has its
// single trial request in flight.
var ErrProbeInFlight = errors.New("circuit breaker probe already in flight")

// Config configures a circuit breaker
type Config struct {
	Name        string
	MaxFailures int           // Consecutive failures before opening
	Cooldown    time.Duration // Time to wait before probing
}

// DefaultConfig returns a default circuit breaker configuration.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxFailures: 5,
		Cooldown:    60 * time.Second,
	}
}

// Breaker is a circuit breaker guarding one external feed.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastStateChange  time.Time
	probing          bool

	// now is swappable for tests
	now func() time.Time
}

// New creates a circuit breaker from the given configuration.
func New(cfg *Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{
		name:            cfg.Name,
		maxFailures:     cfg.MaxFailures,
		cooldown:        cfg.Cooldown,
		state:           StateClosed,
		lastStateChange: time.Now(),
		now:             time.Now,
	}
}

// Execute runs fn under circuit breaker protection. When the circuit is open
// it returns ErrOpen without invoking fn; when half-open only one caller at a
// time may run the trial request.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	b.afterRequest(err)
	return err
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastStateChange) < b.cooldown {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		logging.WithFields(map[string]interface{}{
			"breaker": b.name,
			"state":   StateHalfOpen,
		}).Info("circuit breaker probing feed after cool-down")
		return nil

	case StateHalfOpen:
		if b.probing {
			return ErrProbeInFlight
		}
		b.probing = true
		return nil

	default:
		return nil
	}
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			// Failed probe reopens the circuit for another cool-down.
			b.setState(StateOpen)
			logging.WithField("breaker", b.name).Warn("circuit breaker reopened after failed probe")
			return
		}
		b.consecutiveFails = 0
		b.setState(StateClosed)
		logging.WithField("breaker", b.name).Info("circuit breaker closed after successful probe")
		return
	}

	if err != nil {
		b.consecutiveFails++
		if b.state == StateClosed && b.consecutiveFails >= b.maxFailures {
			b.setState(StateOpen)
			logging.WithFields(map[string]interface{}{
				"breaker":          b.name,
				"consecutiveFails": b.consecutiveFails,
			}).Warn("circuit breaker opened after consecutive failures")
		}
		return
	}

	b.consecutiveFails = 0
}

func (b *Breaker) setState(state State) {
	b.state = state
	b.lastStateChange = b.now()
}

// GetState returns the current state of the circuit breaker.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats represents circuit breaker statistics for the ops surface.
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns a snapshot of the breaker state.
func (b *Breaker) GetStats() *Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Stats{
		Name:             b.name,
		State:            b.state,
		ConsecutiveFails: b.consecutiveFails,
		LastStateChange:  b.lastStateChange,
	}
}

// Reset manually closes the circuit and clears the failure run.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.consecutiveFails = 0
	b.probing = false
}

// SetClock overrides the breaker's clock. Tests only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
