// Package breaker implements a generic three-state circuit breaker
// (CLOSED / OPEN / HALF_OPEN), one instance per backend. It is grounded
// on the retry-and-recover pattern of an AI provider client's circuit
// breaker, adapted to admit exactly one probe during HALF_OPEN (the
// reference pattern admits unbounded concurrent callers once the
// recovery window elapses; this one gates admission behind the same
// mutex that performs the OPEN -> HALF_OPEN transition).
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/metrics"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned by Call when the breaker rejects the attempt
// without invoking the wrapped function.
var ErrOpen = errors.New("breaker: circuit open")

// Totals accumulates lifetime counters for Statistics.
type Totals struct {
	Calls            int
	Successes        int
	Failures         int
	Rejections       int
	StateTransitions int
}

// Snapshot is the result of Statistics().
type Snapshot struct {
	State       State
	Totals      Totals
	FailureRate float64
	RecoveryIn  time.Duration
}

// Breaker guards calls to a single backend. failure_threshold and
// recovery_window are fixed at construction (5/60s for the free
// backend, 3/120s for the paid backend, per §4.3's defaults).
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	recoveryWindow   time.Duration
	clock            clock.Clock

	state                 State
	failureCount          int
	successCount          int
	halfOpenProbeInFlight bool
	openedAt              time.Time
	lastFailureTime       time.Time
	lastStateChange       time.Time
	totals                Totals
	metrics               *metrics.Registry
}

// SetMetrics attaches a metrics registry, labeled with this breaker's
// name. Optional: a Breaker with no registry attached simply skips the
// state/transition updates. Reports the current state immediately so
// the gauge isn't stuck at zero until the next transition.
func (b *Breaker) SetMetrics(m *metrics.Registry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
	if b.metrics != nil {
		b.metrics.BreakerState.WithLabelValues(b.name).Set(float64(b.state))
	}
}

// New constructs a Breaker in the CLOSED state.
func New(name string, failureThreshold int, recoveryWindow time.Duration, clk clock.Clock) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryWindow:   recoveryWindow,
		clock:            clk,
		state:            Closed,
		lastStateChange:  clk.Now(),
	}
}

// IsAvailable reports whether a call would currently be admitted,
// without mutating state or consuming the single HALF_OPEN probe slot.
func (b *Breaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return !b.halfOpenProbeInFlight
	case Open:
		return b.clock.Now().Sub(b.openedAt) >= b.recoveryWindow
	default:
		return false
	}
}

// Call wraps a single attempt. fn is invoked only if the breaker admits
// the call; the admission check (including any OPEN -> HALF_OPEN
// transition) and the call-count increment happen atomically under the
// same lock.
func (b *Breaker) Call(fn func() error) error {
	if !b.admit() {
		b.mu.Lock()
		b.totals.Rejections++
		b.mu.Unlock()
		return ErrOpen
	}

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// admit performs the atomic admission check and any resulting state
// transition, returning whether the caller may proceed to invoke fn.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.totals.Calls++
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) < b.recoveryWindow {
			return false
		}
		b.transitionLocked(HalfOpen)
		b.halfOpenProbeInFlight = true
		b.totals.Calls++
		return true
	case HalfOpen:
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		b.totals.Calls++
		return true
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totals.Successes++
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		b.halfOpenProbeInFlight = false
		if b.successCount >= 1 {
			b.transitionLocked(Closed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totals.Failures++
	b.lastFailureTime = b.clock.Now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.openedAt = b.clock.Now()
			b.transitionLocked(Open)
		}
	case HalfOpen:
		b.halfOpenProbeInFlight = false
		b.successCount = 0
		b.openedAt = b.clock.Now()
		b.transitionLocked(Open)
	}
}

// transitionLocked changes state and bumps the transition counter.
// Callers must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	b.state = to
	b.lastStateChange = b.clock.Now()
	b.totals.StateTransitions++
	if b.metrics != nil {
		b.metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
		b.metrics.BreakerTransitions.WithLabelValues(b.name).Inc()
	}
}

// Statistics reports the current state, lifetime totals, the observed
// failure rate, and the remaining time until a probe would be admitted
// (zero if not currently OPEN).
func (b *Breaker) Statistics() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rate float64
	if b.totals.Calls > 0 {
		rate = float64(b.totals.Failures) / float64(b.totals.Calls)
	}

	var recoveryIn time.Duration
	if b.state == Open {
		recoveryIn = b.recoveryWindow - b.clock.Now().Sub(b.openedAt)
		if recoveryIn < 0 {
			recoveryIn = 0
		}
	}

	return Snapshot{
		State:       b.state,
		Totals:      b.totals,
		FailureRate: rate,
		RecoveryIn:  recoveryIn,
	}
}

// Reset forces CLOSED. Diagnostic only; not part of the normal state
// machine transitions.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(Closed)
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenProbeInFlight = false
}

// Name identifies which backend this breaker guards, for logging and
// statistics.
func (b *Breaker) Name() string { return b.name }

func (b *Breaker) String() string {
	return fmt.Sprintf("breaker(%s)=%s", b.name, b.state)
}
