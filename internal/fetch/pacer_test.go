package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerEnforcesFloor(t *testing.T) {
	const interval = 50 * time.Millisecond
	p := newPacer(interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.wait(ctx))
	}

	assert.GreaterOrEqual(t, time.Since(start), 2*interval,
		"N calls must take at least (N-1) intervals")
}

func TestPacerSerializesConcurrentCallers(t *testing.T) {
	const interval = 30 * time.Millisecond
	p := newPacer(interval)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.wait(context.Background())
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 3*interval)
}

func TestPacerZeroIntervalNeverBlocks(t *testing.T) {
	p := newPacer(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestPacerObservesCancellation(t *testing.T) {
	p := newPacer(time.Hour)
	require.NoError(t, p.wait(context.Background())) // takes the free slot

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
