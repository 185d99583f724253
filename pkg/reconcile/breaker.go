// Package reconcile repairs stale cached aggregates: a cron-driven loop picks
// one out-of-date entity per tick and asks the downstream refresh service to
// recompute it, behind a circuit breaker so a dead dependency is skipped
// instead of hammered.
package reconcile

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/metrics"
)

// Breaker defaults.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 300 * time.Second
)

// Breaker is a two-state circuit breaker: closed until threshold consecutive
// failures, then open until the cooldown elapses, at which point it closes
// again with the failure counter reset. There is no half-open state; the loop
// only ever issues one call per tick, which bounds the probe rate by itself.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
	logger    *zap.Logger
}

// NewBreaker builds a Breaker. Non-positive arguments fall back to the
// defaults.
func NewBreaker(threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, logger: logger}
}

// Allow reports whether a downstream call may be made now. An open breaker
// whose cooldown has elapsed closes here, resetting the failure counter.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	metrics.BreakerOpen.Set(0)
	b.logger.Info("Circuit breaker closed after cooldown")
	return true
}

// Success resets the consecutive-failure counter.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// Failure counts one more consecutive failure and opens the breaker once the
// threshold is reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold && b.openUntil.IsZero() {
		b.openUntil = time.Now().Add(b.cooldown)
		metrics.BreakerOpen.Set(1)
		b.logger.Warn("Circuit breaker opened",
			zap.Int("failures", b.failures),
			zap.Duration("cooldown", b.cooldown))
	}
}

// IsOpen reports whether the breaker is currently open, without closing it.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && time.Now().Before(b.openUntil)
}
