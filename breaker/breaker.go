// Package breaker implements the Circuit Breaker and Retry Policy from
// §4.K. The Migration Engine uses both to wrap its Repository calls; the
// Embedding Pipeline does not wrap Router dispatch in either of them.
package breaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/engramhq/engram/errs"
)

// State is one of the three circuit states from §4.K.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config configures threshold and timing behavior.
type Config struct {
	FailureThreshold  int
	SuccessThreshold  int
	Timeout           time.Duration
	HalfOpenMaxCalls  int
}

// DefaultConfig matches §6's migration.breaker defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second, HalfOpenMaxCalls: 3}
}

// Stats is a snapshot of the breaker's counters, exposed for monitoring.
type Stats struct {
	State               State
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	HalfOpenCalls       int
}

// Breaker wraps an arbitrary fallible operation and never panics.
type Breaker struct {
	config Config
	clock  clock.Clock

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	halfOpenCalls    int
	lastFailureAt    time.Time
	hasLastFailureAt bool
}

// New builds a Breaker using the wall clock.
func New(config Config) *Breaker {
	return NewWithClock(config, clock.New())
}

// NewWithClock builds a Breaker with an injected clock for deterministic
// timeout tests.
func NewWithClock(config Config, clk clock.Clock) *Breaker {
	if config.FailureThreshold <= 0 {
		config = DefaultConfig()
	}
	return &Breaker{config: config, clock: clk, state: Closed}
}

// Execute runs op under the breaker's current state per §4.K's
// transition table.
func (b *Breaker) Execute(op func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := op()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.hasLastFailureAt && b.clock.Now().Sub(b.lastFailureAt) >= b.config.Timeout {
			b.state = HalfOpen
			b.halfOpenCalls = 1 // this call is the first half-open admission
			b.successCount = 0
		} else {
			return errs.New(errs.CircuitOpen, "circuit breaker is open")
		}
	case HalfOpen:
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return errs.New(errs.CircuitOpen, "circuit breaker half-open call limit reached")
		}
		b.halfOpenCalls++
	case Closed:
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			b.halfOpenCalls = 0
		}
	case Closed:
		b.failureCount = 0
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.clock.Now()
	b.hasLastFailureAt = true

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
		b.successCount = 0
		b.halfOpenCalls = 0
	}
}

// Stats returns a snapshot of the breaker's internal counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.failureCount,
		ConsecutiveSuccess:  b.successCount,
		HalfOpenCalls:       b.halfOpenCalls,
	}
}

// Reset forces the breaker back to Closed with cleared counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenCalls = 0
	b.hasLastFailureAt = false
}
