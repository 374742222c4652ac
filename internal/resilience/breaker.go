// Package resilience provides the circuit breaker guarding the remote
// analysis service. When the service is down, the breaker lets the upload
// pipeline fail fast into its queue-and-degrade path instead of burning the
// full retry/backoff budget on every attempt and, during queue replay,
// keeps a dead endpoint from being hammered once per queued item.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker is open and its
// reset timeout has not elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's operating mode.
type State int

const (
	// Closed forwards all calls. Normal operation.
	Closed State = iota

	// Open rejects calls immediately with [ErrOpen] until the reset timeout
	// elapses.
	Open

	// HalfOpen lets a bounded number of probe calls through; success closes
	// the breaker, any failure re-opens it.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a [Breaker]. Zero values select the defaults.
type Config struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenProbes is how many successful probes close the breaker again.
	// Default 2.
	HalfOpenProbes int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeBudget  int
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	probes      int
	probeFails  int
	lastFailure time.Time
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probeBudget:  cfg.HalfOpenProbes,
		now:          cfg.Now,
	}
}

// Do runs fn when the breaker allows it and feeds the outcome back into the
// breaker's state. While open it returns [ErrOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("circuit breaker half-open", "name", b.name)
	case HalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// State returns the effective state, reporting [HalfOpen] for an open
// breaker whose reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = b.now()
	if probing {
		// Any half-open failure re-opens immediately.
		b.state = Open
		b.failures = b.maxFailures
		slog.Warn("circuit breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = Open
		slog.Warn("circuit breaker opened",
			"name", b.name, "consecutive_failures", b.failures)
	}
}

func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}
