// Package breaker provides a circuit breaker built on sony/gobreaker,
// guarding the cache backend path and optionally the origin path.
//
// Failure counting is consecutive: Threshold consecutive failures open the
// circuit. While open, calls fail fast with ErrOpen and no I/O happens.
// After Timeout one trial call is admitted; its outcome decides between
// closing and reopening.
package breaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the circuit rejects calls, in both the open
// and the saturated half-open state. Test with errors.Is.
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of a circuit breaker.
type State int

const (
	// StateClosed allows calls through and counts failures.
	StateClosed State = iota
	// StateOpen rejects calls without attempting I/O.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the settings for one circuit breaker.
type Config struct {
	// Name identifies the breaker in logs ("backend", "origin").
	Name string

	// Threshold is the number of consecutive failures that opens the
	// circuit.
	Threshold uint32

	// Timeout is how long the circuit stays open before admitting a
	// trial call.
	Timeout time.Duration

	// Logger receives state-change events.
	Logger zerolog.Logger
}

// DefaultConfig returns the default breaker settings.
func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("breaker name must not be empty")
	}
	if c.Threshold == 0 {
		return fmt.Errorf("breaker threshold must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("breaker timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Breaker wraps a gobreaker circuit breaker.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New creates a circuit breaker. Invalid configuration is a construction
// error, never silently replaced.
func New(cfg Config) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	settings := gobreaker.Settings{
		Name: cfg.Name,
		// Exactly one trial call decides the half-open outcome.
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Breaker{
		name: cfg.Name,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// Execute runs fn through the breaker and returns its result. While the
// circuit is open the call fails fast with ErrOpen and fn is not invoked.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return v, err
}

// Do runs a valueless operation through the breaker.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string {
	return b.name
}
