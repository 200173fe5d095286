// Package resilience provides the circuit breaker, retry policy and
// degradation manager that guard runtime operations.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tOgg1/omega/internal/logging"
	"k8s.io/utils/clock"
)

// ErrCircuitOpen matches every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a breaker rejects a call.
type CircuitOpenError struct {
	Breaker    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Breaker, e.RetryAfter)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// that close the circuit.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration

	// FailureWindow bounds how far apart counted failures may be. Zero
	// disables the window.
	FailureWindow time.Duration

	// HalfOpenMaxRequests caps concurrent trial calls.
	HalfOpenMaxRequests int
}

// DefaultBreakerConfig returns the standard breaker tunables.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Cooldown:            60 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	ConsecutiveFailures  int    `json:"consecutive_failures"`
	ConsecutiveSuccesses int    `json:"consecutive_successes"`
	TotalSuccesses       uint64 `json:"total_successes"`
	TotalFailures        uint64 `json:"total_failures"`
	Rejected             uint64 `json:"rejected"`
}

// StateChangeFunc observes breaker transitions. It is called without the
// breaker lock held.
type StateChangeFunc func(name string, from, to State)

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	clock clock.PassiveClock

	mu                   sync.Mutex
	state                State
	generation           uint64
	consecutiveFailures  int
	consecutiveSuccesses int
	firstFailureAt       time.Time
	openedAt             time.Time
	halfOpenInFlight     int

	totalSuccesses uint64
	totalFailures  uint64
	rejected       uint64

	onStateChange StateChangeFunc
	isNeutral     func(error) bool
	logger        zerolog.Logger
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock injects the time source.
func WithClock(c clock.PassiveClock) BreakerOption {
	return func(b *Breaker) {
		b.clock = c
	}
}

// WithStateChangeHandler registers fn for every transition.
func WithStateChangeHandler(fn StateChangeFunc) BreakerOption {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// WithNeutralErrors overrides which errors neither count as success nor
// failure. Context cancellation is neutral by default.
func WithNeutralErrors(fn func(error) bool) BreakerOption {
	return func(b *Breaker) {
		b.isNeutral = fn
	}
}

// NewBreaker creates a breaker. Non-positive config fields take defaults.
func NewBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	defaults := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaults.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = defaults.HalfOpenMaxRequests
	}

	b := &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clock.RealClock{},
		logger: logging.Component("breaker").With().Str("breaker", name).Logger(),
		isNeutral: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving Open to HalfOpen once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	change := b.refresh(b.clock.Now())
	state := b.state
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Call runs fn through the breaker.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	generation, err := b.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.after(generation, err)
	return err
}

// Execute runs fn through b and returns its value.
func Execute[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := b.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.transition(StateClosed, b.clock.Now())
	b.mu.Unlock()
	b.notify(change)
}

// Stats returns a counter snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalSuccesses:       b.totalSuccesses,
		TotalFailures:        b.totalFailures,
		Rejected:             b.rejected,
	}
}

type stateChange struct {
	from, to State
	changed  bool
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	now := b.clock.Now()
	change := b.refresh(now)

	var err error
	switch b.state {
	case StateOpen:
		err = &CircuitOpenError{Breaker: b.name, RetryAfter: b.openedAt.Add(b.cfg.Cooldown).Sub(now)}
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxRequests {
			err = &CircuitOpenError{Breaker: b.name}
		} else {
			b.halfOpenInFlight++
		}
	}
	if err != nil {
		b.rejected++
	}
	generation := b.generation
	b.mu.Unlock()

	b.notify(change)
	return generation, err
}

func (b *Breaker) after(generation uint64, err error) {
	b.mu.Lock()
	now := b.clock.Now()

	if b.state == StateHalfOpen && generation == b.generation && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}

	var change stateChange
	switch {
	case generation != b.generation:
		// Result of a call admitted under a previous state.
	case err != nil && b.isNeutral(err):
	case err != nil:
		change = b.onFailure(now)
	default:
		change = b.onSuccess(now)
	}
	b.mu.Unlock()

	b.notify(change)
}

func (b *Breaker) onSuccess(now time.Time) stateChange {
	b.totalSuccesses++
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			return b.transition(StateClosed, now)
		}
	}
	return stateChange{}
}

func (b *Breaker) onFailure(now time.Time) stateChange {
	b.totalFailures++
	switch b.state {
	case StateClosed:
		if b.cfg.FailureWindow > 0 && b.consecutiveFailures > 0 && now.Sub(b.firstFailureAt) > b.cfg.FailureWindow {
			b.consecutiveFailures = 0
		}
		if b.consecutiveFailures == 0 {
			b.firstFailureAt = now
		}
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			return b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		return b.transition(StateOpen, now)
	}
	return stateChange{}
}

// refresh must be called with mu held.
func (b *Breaker) refresh(now time.Time) stateChange {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.cfg.Cooldown)) {
		return b.transition(StateHalfOpen, now)
	}
	return stateChange{}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State, now time.Time) stateChange {
	from := b.state
	if from == to {
		return stateChange{}
	}
	b.state = to
	b.generation++
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	if to == StateOpen {
		b.openedAt = now
	}
	return stateChange{from: from, to: to, changed: true}
}

func (b *Breaker) notify(change stateChange) {
	if !change.changed {
		return
	}
	b.logger.Info().
		Str("from", change.from.String()).
		Str("to", change.to.String()).
		Msg("circuit breaker state changed")
	if b.onStateChange != nil {
		b.onStateChange(b.name, change.from, change.to)
	}
}
