package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoubles(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
}

func TestBackoffCaps(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	assert.Equal(t, 5*time.Second, p.Backoff(4))
	assert.Equal(t, 5*time.Second, p.Backoff(9))
}

func TestBackoffClampsLowAttempt(t *testing.T) {
	p := DefaultRetryPolicy(3)
	assert.Equal(t, p.Backoff(1), p.Backoff(0))
}
