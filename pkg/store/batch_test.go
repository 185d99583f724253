package store

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBatch builds a batch whose pipeline points at a port nothing listens
// on. Commands queue locally; only Exec touches the network, so the chunking
// counters can be asserted without a server.
func newTestBatch(flushEvery int) *pipelineBatch {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return &pipelineBatch{pipe: client.Pipeline(), flushEvery: flushEvery}
}

func TestBatchAutoFlushesEveryN(t *testing.T) {
	ctx := context.Background()
	b := newTestBatch(3)

	require.NoError(t, b.IncrBy(ctx, "k", 1))
	require.NoError(t, b.IncrBy(ctx, "k", 1))
	assert.Equal(t, 0, b.Flushed())

	// The third command fills the chunk and triggers a flush; Exec fails
	// against the dead address but the chunk still counts as executed.
	err := b.IncrBy(ctx, "k", 1)
	assert.Error(t, err)
	assert.Equal(t, 1, b.Flushed())
	assert.Equal(t, 0, b.queued)
}

func TestBatchLPushTrimFillsTwoSlots(t *testing.T) {
	ctx := context.Background()
	b := newTestBatch(10)

	require.NoError(t, b.LPushTrim(ctx, "k", "payload", 10))
	assert.Equal(t, 2, b.queued)
	assert.Equal(t, 0, b.Flushed())

	// With the trim riding along, two more pushes reach the chunk size.
	require.NoError(t, b.LPushTrim(ctx, "k", "payload", 10))
	require.NoError(t, b.LPushTrim(ctx, "k", "payload", 10))
	require.NoError(t, b.LPushTrim(ctx, "k", "payload", 10))
	assert.Equal(t, 8, b.queued)

	err := b.LPushTrim(ctx, "k", "payload", 10)
	assert.Error(t, err)
	assert.Equal(t, 1, b.Flushed())
}

func TestBatchFlushEmptyIsNoop(t *testing.T) {
	b := newTestBatch(5)

	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Flushed())
}

func TestBatchExplicitFlush(t *testing.T) {
	ctx := context.Background()
	b := newTestBatch(100)

	require.NoError(t, b.Set(ctx, "k", 42))
	require.NoError(t, b.ZAdd(ctx, "board", 7, "P1"))

	err := b.Flush(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, b.Flushed())
	assert.Equal(t, 0, b.queued)
}
