package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
)

type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
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
	default:
		return "unknown"
	}
}

type BreakerConfig struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

// CircuitBreaker guards the authoritative backend. After FailureThreshold
// consecutive transport-level failures it opens and fails calls fast;
// once RecoveryTimeout elapses a bounded number of probe calls is let
// through, and a single probe success closes the breaker again.
type CircuitBreaker struct {
	config      *BreakerConfig
	logger      types.Logger
	mu          sync.Mutex
	state       BreakerState
	failures    int
	probeCalls  int
	lastFailure time.Time
}

func NewCircuitBreaker(logger types.Logger, config *BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		logger: logger,
		state:  BreakerClosed,
	}
}

// CanExecute reports whether a call may proceed. Open-to-half-open
// transitions happen lazily here rather than on a timer.
func (cb *CircuitBreaker) CanExecute() error {
	if !cb.config.Enabled {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(cb.lastFailure) < cb.config.RecoveryTimeout {
			return types.ErrCircuitBreakerOpen
		}
		cb.transition(BreakerHalfOpen)
		cb.probeCalls = 1
		return nil
	case BreakerHalfOpen:
		if cb.probeCalls >= cb.config.HalfOpenMaxCalls {
			return types.ErrCircuitBreakerOpen
		}
		cb.probeCalls++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != BreakerClosed {
		cb.transition(BreakerClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case BreakerHalfOpen:
		cb.transition(BreakerOpen)
	case BreakerClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(BreakerOpen)
		}
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probeCalls = 0
	cb.transition(BreakerClosed)
}

// transition assumes cb.mu is held.
func (cb *CircuitBreaker) transition(next BreakerState) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	if next != BreakerHalfOpen {
		cb.probeCalls = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("failures", cb.failures))
}

// countsAsBreakerFailure keeps client-side mistakes from tripping the
// breaker. Only failures that say something about backend health count:
// transport errors, timeouts and 5xx. A 4xx means the request was wrong,
// and a 429 means the backend is alive and explicitly pushing back.
func countsAsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	switch types.ClassOf(err) {
	case types.ClassTransient, types.ClassInfrastructure:
		return true
	default:
		return false
	}
}
