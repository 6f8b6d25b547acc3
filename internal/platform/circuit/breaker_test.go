package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerStartsClosed(t *testing.T) {
	cb := NewBreaker(3, time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, Closed, cb.State())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.False(t, cb.Allow())
	assert.Equal(t, Open, cb.State())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.True(t, cb.Allow())
}

func TestBreakerAdmitsOneProbeAfterCooldown(t *testing.T) {
	cb := NewBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	assert.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, HalfOpen, cb.State())
	assert.True(t, cb.Allow(), "cooldown expiry lets a probe through")
	assert.False(t, cb.Allow(), "only one probe in flight at a time")

	cb.RecordSuccess()
	assert.Equal(t, Closed, cb.State())
	assert.True(t, cb.Allow())
}

func TestBreakerFailedProbeRestartsCooldown(t *testing.T) {
	cb := NewBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, Open, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerDefaultsApplied(t *testing.T) {
	cb := NewBreaker(0, 0)
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.Allow(), "default threshold is five failures")
	cb.RecordFailure()
	assert.False(t, cb.Allow())
}

func TestBreakerStateString(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half_open", HalfOpen.String())
}
