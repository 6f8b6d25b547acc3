package fetch

import (
	"context"
	"sync"
	"time"
)

// pacer enforces the hard pacing floor between outbound calls: a token
// bucket of size one refilled at a fixed interval. Concurrent callers
// reserve slots under the mutex and sleep outside it, so N calls through
// one pacer take at least (N-1) intervals of wall clock.
type pacer struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newPacer(interval time.Duration) *pacer {
	return &pacer{interval: interval}
}

// wait blocks until the caller's reserved slot arrives or ctx is done.
func (p *pacer) wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	now := time.Now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	p.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
