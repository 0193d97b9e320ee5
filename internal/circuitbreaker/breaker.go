// Package circuitbreaker guards one remote dependency. After enough
// consecutive failures the breaker opens and callers use their local
// path until a cool-down passes and a single trial call succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/mbd888/sentinel/internal/metrics"
)

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Config tunes a Breaker. Zero values take defaults.
type Config struct {
	// Name labels metrics and transition callbacks.
	Name string
	// Threshold is the consecutive failure count that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before admitting a trial
	// call. A trial call that never reports back is abandoned after another
	// Cooldown.
	Cooldown time.Duration
	// OnStateChange, when set, runs in its own goroutine on every change.
	OnStateChange func(name string, from, to State)
	// Clock replaces time.Now.
	Clock func() time.Time
}

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trialAt  time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Allow reports whether the next call may go to the dependency.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Clock()
	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		b.trialAt = now
		return true
	case StateHalfOpen:
		if now.Sub(b.trialAt) < b.cfg.Cooldown {
			return false
		}
		b.trialAt = now
		return true
	default:
		return true
	}
}

// Success closes the breaker and clears the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setState(StateClosed)
}

// Failure counts a failed call. A failed trial call reopens immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.Threshold) {
		b.openedAt = b.cfg.Clock()
		b.setState(StateOpen)
	}
}

// Do runs fn if allowed and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	metrics.BreakerTransitionsTotal.WithLabelValues(b.cfg.Name, from.String(), to.String()).Inc()
	if fn := b.cfg.OnStateChange; fn != nil {
		go fn(b.cfg.Name, from, to)
	}
}
