package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Hour, zap.NewNop())

	assert.True(t, b.Allow())
	b.Failure()
	b.Failure()
	assert.False(t, b.IsOpen(), "below threshold stays closed")
	b.Failure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Hour, zap.NewNop())

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.False(t, b.IsOpen(), "success in between must reset the streak")
	b.Failure()
	assert.True(t, b.IsOpen())
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond, zap.NewNop())

	b.Failure()
	assert.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, b.Allow(), "cooldown elapsed, breaker closes")
	assert.False(t, b.IsOpen())

	// Counter was reset: one more failure is needed to re-open.
	b.Failure()
	assert.True(t, b.IsOpen())
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(0, 0, zap.NewNop())
	assert.Equal(t, DefaultThreshold, b.threshold)
	assert.Equal(t, DefaultCooldown, b.cooldown)
}
