package aggregator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/droptally/droptally/pkg/store"
)

// fakeStore is an in-memory stand-in for the aggregation store. Batch writes
// apply immediately; Flush only counts chunks and can be told to fail.
type fakeStore struct {
	counters map[string]int64
	hashes   map[string]map[string]string
	zsets    map[string]map[string]int64
	lists    map[string][]string
	expiries map[string]time.Duration

	failFlush bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counters: map[string]int64{},
		hashes:   map[string]map[string]string{},
		zsets:    map[string]map[string]int64{},
		lists:    map[string][]string{},
		expiries: map[string]time.Duration{},
	}
}

func (f *fakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) LRange(_ context.Context, key string, n int64) ([]string, error) {
	l := f.lists[key]
	if int64(len(l)) > n {
		l = l[:n]
	}
	return append([]string(nil), l...), nil
}

func (f *fakeStore) NewBatch() store.Batch {
	return &fakeBatch{f: f}
}

func (f *fakeStore) hash(key string) map[string]string {
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	return h
}

func (f *fakeStore) zset(key string) map[string]int64 {
	z, ok := f.zsets[key]
	if !ok {
		z = map[string]int64{}
		f.zsets[key] = z
	}
	return z
}

type fakeBatch struct {
	f       *fakeStore
	queued  int
	flushed int
}

func (b *fakeBatch) IncrBy(_ context.Context, key string, delta int64) error {
	b.f.counters[key] += delta
	b.queued++
	return nil
}

func (b *fakeBatch) Set(_ context.Context, key string, value int64) error {
	b.f.counters[key] = value
	b.queued++
	return nil
}

func (b *fakeBatch) HIncrBy(_ context.Context, key, field string, delta int64) error {
	h := b.f.hash(key)
	var cur int64
	if v, ok := h[field]; ok {
		cur = parseInt(v)
	}
	h[field] = formatInt(cur + delta)
	b.queued++
	return nil
}

func (b *fakeBatch) HSet(_ context.Context, key, field, value string) error {
	b.f.hash(key)[field] = value
	b.queued++
	return nil
}

func (b *fakeBatch) ZIncrBy(_ context.Context, key string, delta int64, member string) error {
	b.f.zset(key)[member] += delta
	b.queued++
	return nil
}

func (b *fakeBatch) ZAdd(_ context.Context, key string, score int64, member string) error {
	b.f.zset(key)[member] = score
	b.queued++
	return nil
}

func (b *fakeBatch) LPushTrim(_ context.Context, key, payload string, capacity int64) error {
	l := append([]string{payload}, b.f.lists[key]...)
	if int64(len(l)) > capacity {
		l = l[:capacity]
	}
	b.f.lists[key] = l
	b.queued++
	return nil
}

func (b *fakeBatch) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.f.expiries[key] = ttl
	b.queued++
	return nil
}

func (b *fakeBatch) StampTime(_ context.Context, key, member string, at time.Time) error {
	b.f.zset(key)[member] = at.Unix()
	b.queued++
	return nil
}

func (b *fakeBatch) Flush(_ context.Context) error {
	if b.queued == 0 {
		return nil
	}
	b.queued = 0
	b.flushed++
	if b.f.failFlush {
		return errors.New("store unavailable")
	}
	return nil
}

func (b *fakeBatch) Flushed() int { return b.flushed }

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
