// Package breaker implements C4: a three-state failure isolator
// (Closed/Open/HalfOpen) with a single-probe half-open gate, grounded on
// the teacher's single-owner-state-machine idiom (core/command.Dispatcher's
// atomic running/activeCommands bookkeeping) generalized to the spec's
// transition table.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gifton/pipelinekit/core/logger"
)

// State is the breaker's current phase.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the strictly-positive breaker thresholds from spec §4.4.
type Config struct {
	Name               string
	FailureThreshold   int
	SuccessThreshold   int
	OpenTimeout        time.Duration
	ClosedResetTimeout time.Duration

	// Logger receives one entry per state transition. Nil disables logging.
	Logger *slog.Logger
}

// Breaker is the C4 CircuitBreaker. All interactions serialize on a single
// mutex; the state observed by any caller is always a reachable state.
type Breaker struct {
	cfg Config

	mu                 sync.Mutex
	state              State
	openUntil          time.Time
	consecutiveFailures int
	halfOpenSuccesses  int
	probeInFlight      bool
	lastFailureAt      time.Time
}

// New creates a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Second
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// logTransition reports b's new state. Called with b.mu held.
func (b *Breaker) logTransition(to State) {
	if b.cfg.Logger == nil {
		return
	}
	b.cfg.Logger.Info("breaker state transition", logger.BreakerState(to.String()))
}

// Allow reports whether a call may proceed now, performing any due
// Open->HalfOpen transition and admitting exactly one probe at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		if b.cfg.ClosedResetTimeout > 0 && !b.lastFailureAt.IsZero() &&
			time.Since(b.lastFailureAt) >= b.cfg.ClosedResetTimeout {
			b.consecutiveFailures = 0
		}
		return true

	case Open:
		if time.Now().Before(b.openUntil) {
			return false
		}
		b.state = HalfOpen
		b.probeInFlight = true
		b.halfOpenSuccesses = 0
		b.logTransition(HalfOpen)
		return true

	case HalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.probeInFlight = false
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.logTransition(Closed)
		}
	}
}

// RecordFailure reports a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailureAt = now

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openUntil = now.Add(b.cfg.OpenTimeout)
			b.logTransition(Open)
		}
	case HalfOpen:
		b.probeInFlight = false
		b.state = Open
		b.openUntil = now.Add(b.cfg.OpenTimeout)
		b.halfOpenSuccesses = 0
		b.logTransition(Open)
	}
}

// State returns the current state. The value may be stale by the time the
// caller acts on it, but it is always one the breaker actually occupied.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
