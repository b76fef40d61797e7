package executor

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is returned while the breaker refuses work.
var ErrBreakerOpen = fmt.Errorf("circuit breaker open")

// Breaker trips after a run of consecutive failures, refuses work for
// a cooldown, then lets exactly one trial through. The trial's outcome
// closes or re-opens the circuit.
type Breaker struct {
	mu sync.Mutex

	state       BreakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	openedAt    time.Time
	trialActive bool

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a new attempt may proceed. In half-open mode
// only one trial runs at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.trialActive = true
		log.Printf("[INFO] breaker: half-open, allowing one trial")
		return nil
	default: // half-open
		if b.trialActive {
			return ErrBreakerOpen
		}
		b.trialActive = true
		return nil
	}
}

// Success records a successful attempt.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		log.Printf("[INFO] breaker: trial succeeded, closing circuit")
	}
	b.state = BreakerClosed
	b.failures = 0
	b.trialActive = false
}

// Cancel releases an attempt claimed by Allow without recording an
// outcome. Discards that say nothing about chain health (an expired
// signal, a gas hold) must call this so a half-open trial slot is not
// lost forever.
func (b *Breaker) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.trialActive = false
	}
}

// Failure records a failed attempt, possibly tripping the circuit.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.trialActive = false
		log.Printf("[WARN] breaker: trial failed, re-opening for %s", b.cooldown)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		log.Printf("[WARN] breaker: %d consecutive failures, opening for %s", b.failures, b.cooldown)
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure run length.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
