package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Batch queues counter, hash, sorted-set, list, and expiry writes and ships
// them to the store in pipelined chunks. The pipeline is flushed automatically
// every flushEvery commands so a large apply never builds an unbounded command
// queue. Chunks already flushed are not rolled back when a later chunk fails;
// callers see the error and decide whether to retry the whole operation.
//
// A Batch is not safe for concurrent use.
type Batch interface {
	IncrBy(ctx context.Context, key string, delta int64) error
	Set(ctx context.Context, key string, value int64) error
	HIncrBy(ctx context.Context, key, field string, delta int64) error
	HSet(ctx context.Context, key, field, value string) error
	ZIncrBy(ctx context.Context, key string, delta int64, member string) error
	ZAdd(ctx context.Context, key string, score int64, member string) error
	// LPushTrim pushes payload onto the head of key and trims it to capacity.
	LPushTrim(ctx context.Context, key, payload string, capacity int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// StampTime sets member's score in a time-scored sorted set to at.
	StampTime(ctx context.Context, key, member string, at time.Time) error

	// Flush executes anything still queued.
	Flush(ctx context.Context) error
	// Flushed reports how many pipeline chunks have been executed so far,
	// successfully or not. Non-zero on error means partial visibility.
	Flushed() int
}

// NewBatch starts an empty write batch against the store.
func (c *Client) NewBatch() Batch {
	return &pipelineBatch{
		pipe:       c.client.Pipeline(),
		flushEvery: c.flushEvery,
	}
}

type pipelineBatch struct {
	pipe       redis.Pipeliner
	flushEvery int
	queued     int
	flushed    int
}

// bump flushes the pipeline once enough commands have accumulated.
func (b *pipelineBatch) bump(ctx context.Context) error {
	b.queued++
	if b.queued < b.flushEvery {
		return nil
	}
	return b.Flush(ctx)
}

func (b *pipelineBatch) IncrBy(ctx context.Context, key string, delta int64) error {
	b.pipe.IncrBy(ctx, key, delta)
	return b.bump(ctx)
}

func (b *pipelineBatch) Set(ctx context.Context, key string, value int64) error {
	b.pipe.Set(ctx, key, value, 0)
	return b.bump(ctx)
}

func (b *pipelineBatch) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	b.pipe.HIncrBy(ctx, key, field, delta)
	return b.bump(ctx)
}

func (b *pipelineBatch) HSet(ctx context.Context, key, field, value string) error {
	b.pipe.HSet(ctx, key, field, value)
	return b.bump(ctx)
}

func (b *pipelineBatch) ZIncrBy(ctx context.Context, key string, delta int64, member string) error {
	b.pipe.ZIncrBy(ctx, key, float64(delta), member)
	return b.bump(ctx)
}

func (b *pipelineBatch) ZAdd(ctx context.Context, key string, score int64, member string) error {
	b.pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
	return b.bump(ctx)
}

func (b *pipelineBatch) LPushTrim(ctx context.Context, key, payload string, capacity int64) error {
	b.pipe.LPush(ctx, key, payload)
	b.pipe.LTrim(ctx, key, 0, capacity-1)
	b.queued++ // the trim rides along with the push
	return b.bump(ctx)
}

func (b *pipelineBatch) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.pipe.Expire(ctx, key, ttl)
	return b.bump(ctx)
}

func (b *pipelineBatch) StampTime(ctx context.Context, key, member string, at time.Time) error {
	b.pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.Unix()), Member: member})
	return b.bump(ctx)
}

func (b *pipelineBatch) Flush(ctx context.Context) error {
	if b.queued == 0 {
		return nil
	}
	b.queued = 0
	b.flushed++
	if _, err := b.pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	return nil
}

func (b *pipelineBatch) Flushed() int {
	return b.flushed
}
