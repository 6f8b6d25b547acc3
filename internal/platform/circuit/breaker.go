// Package circuit implements the consecutive-failure circuit breaker shared
// by the fetch client and the audit publisher.
package circuit

import (
	"sync"
	"time"
)

// State is the breaker's current position, derived from the failure count
// and the time since the circuit opened.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker guards calls to a dependency that may be down. After threshold
// consecutive terminal failures the circuit opens and calls fail fast;
// once the cooldown passes a single probe is admitted, and its outcome
// either closes the circuit or restarts the cooldown.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	openedAt time.Time
	probing  bool
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

func (b *Breaker) stateAt(now time.Time) State {
	if b.failures < b.threshold {
		return Closed
	}
	if now.Sub(b.openedAt) < b.cooldown {
		return Open
	}
	return HalfOpen
}

// Allow reports whether a call may proceed. While half open only one probe
// is in flight at a time; concurrent callers keep failing fast until its
// outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateAt(time.Now()) {
	case Closed:
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a terminal call failure. Crossing the threshold, or
// failing the half-open probe, starts a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.probing = false
	if b.failures >= b.threshold {
		b.openedAt = time.Now()
	}
}

// State reports the current position for logs and metrics without
// admitting a probe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateAt(time.Now())
}
