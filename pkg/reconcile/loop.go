package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/keys"
	"github.com/droptally/droptally/pkg/metrics"
)

// DefaultStaleAfter is how old an entity's last sync may get before it is
// repaired.
const DefaultStaleAfter = 24 * time.Hour

// StaleSource finds entities needing repair and records repairs. It is the
// slice of the aggregation store the loop touches; *store.Client satisfies it.
type StaleSource interface {
	OldestBefore(ctx context.Context, key string, before time.Time) (string, bool, error)
	StampTime(ctx context.Context, key, member string, at time.Time) error
}

// RefreshClient requests a downstream recompute of one entity.
type RefreshClient interface {
	Refresh(ctx context.Context, entityID string) error
}

// Loop repairs at most one stale entity per tick, which bounds the load on
// the refresh dependency. Ticks are scheduled externally (cron); cancellation
// happens between ticks, never mid-call.
type Loop struct {
	source     StaleSource
	refresh    RefreshClient
	breaker    *Breaker
	logger     *zap.Logger
	staleAfter time.Duration
	timeout    time.Duration
}

// NewLoop builds a reconciliation loop.
func NewLoop(source StaleSource, refresh RefreshClient, breaker *Breaker, logger *zap.Logger, staleAfter, timeout time.Duration) *Loop {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	return &Loop{
		source:     source,
		refresh:    refresh,
		breaker:    breaker,
		logger:     logger,
		staleAfter: staleAfter,
		timeout:    timeout,
	}
}

// Tick runs one reconciliation cycle. While the breaker is open the cycle is
// skipped outright, no downstream call and no store query. A downstream
// failure is reported to the caller for logging and retried naturally on a
// later tick.
func (l *Loop) Tick(ctx context.Context) error {
	if !l.breaker.Allow() {
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		l.logger.Debug("Reconcile skipped, breaker open")
		return nil
	}

	entity, ok, err := l.source.OldestBefore(ctx, keys.LastSynced, time.Now().Add(-l.staleAfter))
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("failure").Inc()
		return fmt.Errorf("find stale entity: %w", err)
	}
	if !ok {
		metrics.ReconcileRuns.WithLabelValues("idle").Inc()
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.refresh.Refresh(cctx, entity); err != nil {
		l.breaker.Failure()
		metrics.ReconcileRuns.WithLabelValues("failure").Inc()
		return fmt.Errorf("reconcile %s: %w", entity, err)
	}

	l.breaker.Success()
	if err := l.source.StampTime(ctx, keys.LastSynced, entity, time.Now()); err != nil {
		// The refresh itself succeeded; the entity will just be picked again.
		l.logger.Warn("Failed to stamp sync time", zap.String("entity", entity), zap.Error(err))
	}
	metrics.ReconcileRuns.WithLabelValues("success").Inc()
	l.logger.Info("Reconciled stale entity", zap.String("entity", entity))
	return nil
}
