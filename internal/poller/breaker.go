package poller

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	breakerThreshold     = 3
	breakerCooldown      = 60 * time.Second
	breakerMaxMultiplier = 3
)

type circuitState struct {
	failures    int
	openedUntil time.Time
}

// CircuitBreaker isolates failing statement sources. State is keyed by
// poller id and owned by whoever constructs the breaker, so each test gets a
// fresh instance instead of sharing process globals.
type CircuitBreaker struct {
	mu    sync.Mutex
	state map[uuid.UUID]*circuitState
	now   func() time.Time
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		state: make(map[uuid.UUID]*circuitState),
		now:   time.Now,
	}
}

// Allow reports whether the source may be fetched. When the circuit is open
// it also returns how long until the next attempt is permitted.
func (b *CircuitBreaker) Allow(pollerID uuid.UUID) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[pollerID]
	if !ok {
		return true, 0
	}
	// Failures below the threshold leave the circuit closed; the count must
	// survive the Allow check that precedes every fetch.
	if st.openedUntil.IsZero() {
		return true, 0
	}
	now := b.now()
	if !st.openedUntil.After(now) {
		delete(b.state, pollerID)
		return true, 0
	}
	return false, st.openedUntil.Sub(now)
}

// RecordFailure counts one failed fetch. At the threshold the circuit opens
// with a cooldown that escalates with each further failure, capped at three
// times the base cooldown.
func (b *CircuitBreaker) RecordFailure(pollerID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[pollerID]
	if !ok {
		st = &circuitState{}
		b.state[pollerID] = st
	}
	st.failures++
	if st.failures >= breakerThreshold {
		multiplier := st.failures - breakerThreshold + 1
		if multiplier > breakerMaxMultiplier {
			multiplier = breakerMaxMultiplier
		}
		st.openedUntil = b.now().Add(breakerCooldown * time.Duration(multiplier))
	}
	return st.failures
}

// Reset clears the source's failure history after a successful fetch.
func (b *CircuitBreaker) Reset(pollerID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, pollerID)
}
