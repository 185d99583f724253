// Package aggregator is the write path of the engine: it takes validated drop
// events for one entity and updates every affected counter, breakdown hash,
// leaderboard, and recent-drops list across all time granularities in one
// pipelined flush.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/dedupe"
	"github.com/droptally/droptally/pkg/event"
	"github.com/droptally/droptally/pkg/keys"
	"github.com/droptally/droptally/pkg/metrics"
	"github.com/droptally/droptally/pkg/store"
)

// Mode selects how accumulated totals meet the stored ones.
type Mode int

const (
	// Incremental adds the batch's contributions on top of whatever is
	// stored, using the store's atomic increments.
	Incremental Mode = iota
	// FullRebuild replaces the stored values for every touched key with the
	// batch's totals, used when an entity is recomputed from scratch.
	FullRebuild
)

func (m Mode) String() string {
	if m == FullRebuild {
		return "full_rebuild"
	}
	return "incremental"
}

// Store is the slice of the aggregation store the write path touches.
// *store.Client satisfies it.
type Store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	LRange(ctx context.Context, key string, n int64) ([]string, error)
	NewBatch() store.Batch
}

// Options tunes the write path.
type Options struct {
	// SignificantAmount is the minimum contribution that lands on the
	// recent-drops lists.
	SignificantAmount int64
	// RecentCap caps the recent-drops lists.
	RecentCap int64
	// ReservedGroupID is the catch-all group that never gets leaderboards or
	// recent lists of its own.
	ReservedGroupID string
}

// Aggregator applies event batches for one entity at a time. Calls for
// different entities run concurrently; calls for the same entity are
// serialized by a per-entity lock so the read-accumulate-flush sequence never
// interleaves with itself.
type Aggregator struct {
	store  Store
	guard  *dedupe.Guard
	logger *zap.Logger
	opts   Options
	// locks holds one mutex per entity id ever applied; entries are never
	// removed, so the map grows with the distinct ids seen by this process.
	locks *xsync.Map[string, *sync.Mutex]
}

// New builds an Aggregator. The guard must be shared with every other
// ingestion path feeding the same store.
func New(s Store, guard *dedupe.Guard, logger *zap.Logger, opts Options) *Aggregator {
	if opts.RecentCap <= 0 {
		opts.RecentCap = 10
	}
	return &Aggregator{
		store:  s,
		guard:  guard,
		logger: logger,
		opts:   opts,
		locks:  xsync.NewMap[string, *sync.Mutex](),
	}
}

// FlushError reports an apply that failed after some pipeline chunks were
// already visible in the store. Nothing is rolled back; the whole apply can
// be retried because none of the batch's events were marked as seen.
type FlushError struct {
	EntityID string
	Flushed  int
	Err      error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("apply %s: %d chunks flushed before failure: %v", e.EntityID, e.Flushed, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Apply folds events into the entity's aggregates. groups lists the groups
// the entity belongs to; group-scoped keys are written for each of them
// except the reserved catch-all. Events already seen by the guard are
// skipped. The guard is marked only after the flush fully succeeds, so a
// failed apply can be retried without losing events.
func (a *Aggregator) Apply(ctx context.Context, entityID string, groups []string, events []event.Event, mode Mode) error {
	mu, _ := a.locks.LoadOrStore(entityID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	fresh := make([]event.Event, 0, len(events))
	for _, e := range events {
		if a.guard.Seen(e.ID) {
			metrics.EventsDuplicate.Inc()
			continue
		}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil
	}

	acc := newAccumulator()
	for _, e := range fresh {
		acc.add(e)
	}

	batch := a.store.NewBatch()
	for _, w := range acc.sorted() {
		if err := a.flushWindow(ctx, batch, entityID, groups, w, mode); err != nil {
			return a.fail(entityID, batch, err)
		}
	}
	if err := a.pushRecent(ctx, batch, entityID, groups, fresh); err != nil {
		return a.fail(entityID, batch, err)
	}
	if err := batch.StampTime(ctx, keys.LastSynced, entityID, time.Now()); err != nil {
		return a.fail(entityID, batch, err)
	}
	if err := batch.Flush(ctx); err != nil {
		return a.fail(entityID, batch, err)
	}

	for _, e := range fresh {
		a.guard.Mark(e.ID)
	}
	metrics.EventsApplied.Add(float64(len(fresh)))
	metrics.FlushBatches.Add(float64(batch.Flushed()))

	a.logger.Debug("Applied events",
		zap.String("entity", entityID),
		zap.Int("events", len(fresh)),
		zap.String("mode", mode.String()))
	return nil
}

func (a *Aggregator) fail(entityID string, batch store.Batch, err error) error {
	metrics.FlushFailures.Inc()
	return &FlushError{EntityID: entityID, Flushed: batch.Flushed(), Err: err}
}

// flushWindow queues one window's writes. Incremental totals and sources use
// atomic increments so interleaved flushes still compose; the items hash
// carries composite "qty,amount" values and is read-modify-written under the
// per-entity lock.
func (a *Aggregator) flushWindow(ctx context.Context, batch store.Batch, entityID string, groups []string, w *window, mode Mode) error {
	totalKey := keys.EntityTotal(entityID, w.timeScope)
	itemsKey := keys.EntityItems(entityID, w.timeScope)
	sourcesKey := keys.EntitySources(entityID, w.timeScope)

	expirable := []string{totalKey, itemsKey, sourcesKey}

	// Seed the touched item fields from the store before overwriting them.
	seed := map[string]itemTotals{}
	if mode == Incremental {
		existing, err := a.store.HGetAll(ctx, itemsKey)
		if err != nil {
			return err
		}
		for tid := range w.items {
			v, ok := existing[tid]
			if !ok {
				continue
			}
			qty, amount, ok := parseItem(v)
			if !ok {
				a.logger.Warn("Malformed item value, treating as zero",
					zap.String("key", itemsKey),
					zap.String("field", tid),
					zap.String("value", v))
				continue
			}
			seed[tid] = itemTotals{Quantity: qty, Amount: amount}
		}
	}

	if mode == FullRebuild {
		if err := batch.Set(ctx, totalKey, w.total); err != nil {
			return err
		}
	} else {
		if err := batch.IncrBy(ctx, totalKey, w.total); err != nil {
			return err
		}
	}

	for _, tid := range sortedKeys(w.items) {
		it := w.items[tid]
		qty, amount := it.Quantity, it.Amount
		if s, ok := seed[tid]; ok {
			qty += s.Quantity
			amount += s.Amount
		}
		if err := batch.HSet(ctx, itemsKey, tid, encodeItem(qty, amount)); err != nil {
			return err
		}
	}

	for _, sid := range sortedKeys(w.sources) {
		amount := w.sources[sid]
		var err error
		if mode == FullRebuild {
			err = batch.HSet(ctx, sourcesKey, sid, fmt.Sprintf("%d", amount))
		} else {
			err = batch.HIncrBy(ctx, sourcesKey, sid, amount)
		}
		if err != nil {
			return err
		}
	}

	// Leaderboards: global, per group, per source, per target. All carry the
	// entity as member so rank queries stay uniform across scopes.
	boards := []struct {
		scope keys.Scope
		score int64
	}{{scope: keys.Scope{}, score: w.total}}
	for _, gid := range groups {
		if gid == "" || gid == a.opts.ReservedGroupID {
			continue
		}
		boards = append(boards, struct {
			scope keys.Scope
			score int64
		}{keys.Scope{GroupID: gid}, w.total})
	}
	for _, sid := range sortedKeys(w.sources) {
		boards = append(boards, struct {
			scope keys.Scope
			score int64
		}{keys.Scope{SourceID: sid}, w.sources[sid]})
	}
	for _, tid := range sortedKeys(w.items) {
		boards = append(boards, struct {
			scope keys.Scope
			score int64
		}{keys.Scope{TargetID: tid}, w.items[tid].Amount})
	}

	for _, b := range boards {
		key := keys.Leaderboard(b.scope, w.timeScope)
		var err error
		if mode == FullRebuild {
			err = batch.ZAdd(ctx, key, b.score, entityID)
		} else {
			err = batch.ZIncrBy(ctx, key, b.score, entityID)
		}
		if err != nil {
			return err
		}
		expirable = append(expirable, key)
	}

	if ttl := w.gran.TTL(); ttl > 0 {
		for _, key := range expirable {
			if err := batch.Expire(ctx, key, ttl); err != nil {
				return err
			}
		}
	}
	return nil
}

// pushRecent queues recent-drops entries for events at or above the
// significance threshold, for the entity and each of its groups.
func (a *Aggregator) pushRecent(ctx context.Context, batch store.Batch, entityID string, groups []string, fresh []event.Event) error {
	allTime := keys.TimeScope(keys.AllTime, time.Time{})
	for _, e := range fresh {
		amount := e.Contribution()
		if amount < a.opts.SignificantAmount {
			continue
		}
		payload, err := json.Marshal(RecentDrop{
			EventID:    e.ID,
			EntityID:   e.EntityID,
			SourceID:   e.SourceID,
			TargetID:   e.TargetID,
			Quantity:   e.Quantity,
			Amount:     amount,
			OccurredAt: e.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("encode recent drop %s: %w", e.ID, err)
		}
		if err := batch.LPushTrim(ctx, keys.EntityRecent(entityID, allTime), string(payload), a.opts.RecentCap); err != nil {
			return err
		}
		for _, gid := range groups {
			if gid == "" || gid == a.opts.ReservedGroupID {
				continue
			}
			if err := batch.LPushTrim(ctx, keys.GroupRecent(gid, allTime), string(payload), a.opts.RecentCap); err != nil {
				return err
			}
		}
	}
	return nil
}
