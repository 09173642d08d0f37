// Package resilience provides the circuit breakers that keep a failing
// source connector from being hammered on every scrape run.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // rejecting calls
	StateHalfOpen              // allowing a probe call
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

// ErrCircuitOpen is returned by Call while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker.
type BreakerOpts struct {
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before a probe is allowed.
	Timeout time.Duration
	// HalfOpenMax is the number of concurrent probe calls in half-open state.
	HalfOpenMax int
	// IsFailure decides which errors count against the breaker. Nil counts
	// every error except context cancellation by the caller.
	IsFailure func(error) bool
}

// DefaultBreakerOpts trips after three consecutive failed runs and probes
// again after ten minutes.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 3,
	Timeout:       10 * time.Minute,
	HalfOpenMax:   1,
}

func (o BreakerOpts) withDefaults() BreakerOpts {
	if o.FailThreshold <= 0 {
		o.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultBreakerOpts.Timeout
	}
	if o.HalfOpenMax <= 0 {
		o.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if o.IsFailure == nil {
		o.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return o
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	mu            sync.Mutex
	opts          BreakerOpts
	state         State
	failures      int
	openedAt      time.Time
	halfOpenCount int
	now           func() time.Time
}

// NewBreaker creates a circuit breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	return &Breaker{opts: opts.withDefaults(), now: time.Now}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState moves open to half-open once Timeout has elapsed. Caller holds mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.opts.Timeout {
		b.state = StateHalfOpen
		b.halfOpenCount = 0
	}
	return b.state
}

// Call runs f unless the breaker is open.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	b.mu.Lock()
	switch b.currentState() {
	case StateOpen:
		b.mu.Unlock()
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenCount >= b.opts.HalfOpenMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.halfOpenCount++
	}
	b.mu.Unlock()

	err := f(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err != nil && b.opts.IsFailure(err):
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			b.failures = 0
			b.halfOpenCount = 0
		}
	case err != nil:
		if b.state == StateHalfOpen {
			// Abandoned probe; let another one through.
			b.halfOpenCount--
		}
	default:
		b.state = StateClosed
		b.failures = 0
	}
	return err
}

// Set hands out one Breaker per key, created on first use.
type Set[K comparable] struct {
	mu       sync.Mutex
	opts     BreakerOpts
	breakers map[K]*Breaker
	now      func() time.Time
}

// NewSet creates a Set whose breakers share opts.
func NewSet[K comparable](opts BreakerOpts) *Set[K] {
	return &Set[K]{opts: opts, breakers: make(map[K]*Breaker), now: time.Now}
}

// Get returns the breaker for key.
func (s *Set[K]) Get(key K) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.opts)
		b.now = s.now
		s.breakers[key] = b
	}
	return b
}

// States snapshots the state of every breaker created so far.
func (s *Set[K]) States() map[K]State {
	s.mu.Lock()
	breakers := make(map[K]*Breaker, len(s.breakers))
	for k, b := range s.breakers {
		breakers[k] = b
	}
	s.mu.Unlock()

	out := make(map[K]State, len(breakers))
	for k, b := range breakers {
		out[k] = b.State()
	}
	return out
}
