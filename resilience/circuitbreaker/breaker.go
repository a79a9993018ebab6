// Package circuitbreaker implements the per-agent three-state circuit
// breaker shared by all concurrent invocations of one agent.
package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/types"
)

// State is the breaker lifecycle state.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota
	// StateOpen rejects every request until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets a single probe through.
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
		return "unknown"
	}
}

// StateChange describes one breaker transition.
type StateChange struct {
	Agent     string    `json:"agent"`
	OldState  State     `json:"old_state"`
	NewState  State     `json:"new_state"`
	Failures  int       `json:"failures"`
	Timestamp time.Time `json:"timestamp"`
}

// StateChangeFunc receives breaker transitions. It is called outside the
// breaker mutex.
type StateChangeFunc func(StateChange)

// Breaker is a three-state circuit breaker. The mutex is held only across
// counter updates, never across an external call.
type Breaker struct {
	agent    string
	cfg      config.BreakerConfig
	onChange StateChangeFunc
	logger   *zap.Logger

	mu         sync.Mutex
	state      State
	failures   int
	probing    bool
	openedAt   time.Time
	now        func() time.Time
}

// New creates a breaker for one agent.
func New(agent string, cfg config.BreakerConfig, onChange StateChangeFunc, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		agent:    agent,
		cfg:      cfg,
		onChange: onChange,
		logger:   logger.With(zap.String("agent", agent)),
		state:    StateClosed,
		now:      time.Now,
	}
}

// Allow reports whether an invocation may proceed. In OPEN, the first call
// after the recovery timeout atomically moves the breaker to HALF_OPEN and
// claims the single probe; in HALF_OPEN further calls are denied until the
// probe outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout.Std() {
			b.mu.Unlock()
			return false
		}
		change := b.transition(StateHalfOpen)
		b.probing = true
		b.mu.Unlock()
		b.emit(change)
		return true

	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false
		}
		b.probing = true
		b.mu.Unlock()
		return true

	default:
		b.mu.Unlock()
		return false
	}
}

// RecordSuccess reports a successful invocation outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	var change *StateChange
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		change = b.transition(StateClosed)
		b.failures = 0
		b.probing = false
	}
	b.mu.Unlock()
	b.emit(change)
}

// RecordFailure reports a failed invocation outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	var change *StateChange
	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			change = b.transition(StateOpen)
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		change = b.transition(StateOpen)
		b.openedAt = b.now()
		b.probing = false
	}
	b.mu.Unlock()
	b.emit(change)
}

// Release returns an unconsumed half-open probe without recording an
// outcome (the invocation was cancelled before the remote answered).
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
	b.mu.Unlock()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Deny builds the BREAKER_OPEN error returned when Allow is false.
func (b *Breaker) Deny() *types.Error {
	b.mu.Lock()
	failures := b.failures
	remaining := b.cfg.RecoveryTimeout.Std() - b.now().Sub(b.openedAt)
	b.mu.Unlock()
	return types.Errorf(types.ErrBreakerOpen,
		"circuit breaker open for agent %s: %d consecutive failures, retry after %v",
		b.agent, failures, remaining)
}

// transition must be called with the mutex held; the returned change is
// emitted after unlock.
func (b *Breaker) transition(to State) *StateChange {
	from := b.state
	b.state = to
	b.logger.Info("circuit breaker state change",
		zap.String("old_state", from.String()),
		zap.String("new_state", to.String()),
		zap.Int("failures", b.failures))
	return &StateChange{
		Agent:     b.agent,
		OldState:  from,
		NewState:  to,
		Failures:  b.failures,
		Timestamp: b.now(),
	}
}

func (b *Breaker) emit(change *StateChange) {
	if change != nil && b.onChange != nil {
		b.onChange(*change)
	}
}
