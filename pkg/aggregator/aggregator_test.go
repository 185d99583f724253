package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/dedupe"
	"github.com/droptally/droptally/pkg/event"
	"github.com/droptally/droptally/pkg/keys"
)

var testTime = time.Date(2026, 8, 31, 14, 7, 9, 0, time.UTC)

func newTestAggregator(f *fakeStore, opts Options) *Aggregator {
	return New(f, dedupe.New(16), zap.NewNop(), opts)
}

func drop(id string, value, qty int64) event.Event {
	return event.Event{
		ID:         id,
		EntityID:   "P1",
		SourceID:   "9425",
		TargetID:   "11832",
		Value:      value,
		Quantity:   qty,
		OccurredAt: testTime,
	}
}

func TestApplyWritesAllGranularities(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{})

	err := a.Apply(context.Background(), "P1", []string{"G1"}, []event.Event{drop("e1", 100, 2)}, Incremental)
	require.NoError(t, err)

	for _, ts := range []string{"all_time", "202608", "daily:20260831", "hourly:2026083114", "minute:202608311407"} {
		assert.Equal(t, int64(200), f.counters[keys.EntityTotal("P1", ts)], "total for %s", ts)
		assert.Equal(t, int64(200), f.zsets[keys.Leaderboard(keys.Scope{}, ts)]["P1"], "global board for %s", ts)
		assert.Equal(t, int64(200), f.zsets[keys.Leaderboard(keys.Scope{GroupID: "G1"}, ts)]["P1"], "group board for %s", ts)
	}

	// Finer windows carry TTLs, coarse ones don't.
	assert.Equal(t, 30*24*time.Hour, f.expiries[keys.EntityTotal("P1", "daily:20260831")])
	assert.Equal(t, 7*24*time.Hour, f.expiries[keys.EntityTotal("P1", "hourly:2026083114")])
	assert.Equal(t, 24*time.Hour, f.expiries[keys.EntityTotal("P1", "minute:202608311407")])
	_, hasAllTime := f.expiries[keys.EntityTotal("P1", "all_time")]
	assert.False(t, hasAllTime)
	_, hasMonth := f.expiries[keys.EntityTotal("P1", "202608")]
	assert.False(t, hasMonth)
}

func TestIdempotence(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{})
	ctx := context.Background()

	e := drop("e1", 100, 3)
	require.NoError(t, a.Apply(ctx, "P1", nil, []event.Event{e}, Incremental))
	require.NoError(t, a.Apply(ctx, "P1", nil, []event.Event{e}, Incremental))

	assert.Equal(t, int64(300), f.counters[keys.EntityTotal("P1", "all_time")],
		"re-applying the same event id must not change totals")
}

func TestAdditivity(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{})

	events := []event.Event{
		drop("e1", 100, 1),
		drop("e2", 250, 2),
		drop("e3", 7, 10),
		drop("e2", 250, 2), // duplicate id inside the batch is impossible upstream, but a second batch may repeat it
	}
	require.NoError(t, a.Apply(context.Background(), "P1", nil, events[:3], Incremental))
	require.NoError(t, a.Apply(context.Background(), "P1", nil, events[3:], Incremental))

	// 100 + 500 + 70, the repeated e2 contributes nothing.
	assert.Equal(t, int64(670), f.counters[keys.EntityTotal("P1", "all_time")])
}

func TestFullRebuildReplaces(t *testing.T) {
	f := newFakeStore()
	f.counters[keys.EntityTotal("P1", "all_time")] = 999_999
	f.zsets[keys.Leaderboard(keys.Scope{}, "all_time")] = map[string]int64{"P1": 999_999}
	a := newTestAggregator(f, Options{})

	events := []event.Event{drop("e1", 100, 1), drop("e2", 200, 1)}
	require.NoError(t, a.Apply(context.Background(), "P1", nil, events, FullRebuild))

	assert.Equal(t, int64(300), f.counters[keys.EntityTotal("P1", "all_time")],
		"rebuild must replace, not add")
	assert.Equal(t, int64(300), f.zsets[keys.Leaderboard(keys.Scope{}, "all_time")]["P1"])
}

func TestScopeIsolation(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{})

	require.NoError(t, a.Apply(context.Background(), "P1", []string{"G1"}, []event.Event{drop("e1", 100, 1)}, Incremental))

	assert.Contains(t, f.zsets, "leaderboard:group:G1:all_time")
	for key := range f.zsets {
		assert.NotContains(t, key, "group:G2", "no key may leak into a group the entity is not in")
	}
}

func TestReservedGroupGetsNoBoards(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{ReservedGroupID: "0", SignificantAmount: 1})

	require.NoError(t, a.Apply(context.Background(), "P1", []string{"G1", "0"}, []event.Event{drop("e1", 100, 1)}, Incremental))

	for key := range f.zsets {
		assert.NotContains(t, key, "group:0:")
	}
	_, ok := f.lists[keys.GroupRecent("0", "all_time")]
	assert.False(t, ok)
}

func TestItemsAndSourcesBreakdowns(t *testing.T) {
	f := newFakeStore()
	// Pre-existing item state the batch must be folded into.
	f.hashes[keys.EntityItems("P1", "all_time")] = map[string]string{"11832": "2,100"}
	a := newTestAggregator(f, Options{})

	require.NoError(t, a.Apply(context.Background(), "P1", nil, []event.Event{drop("e1", 50, 1)}, Incremental))

	assert.Equal(t, "3,150", f.hashes[keys.EntityItems("P1", "all_time")]["11832"])
	assert.Equal(t, "50", f.hashes[keys.EntitySources("P1", "all_time")]["9425"])
	assert.Equal(t, int64(50), f.zsets[keys.Leaderboard(keys.Scope{SourceID: "9425"}, "all_time")]["P1"])
	assert.Equal(t, int64(50), f.zsets[keys.Leaderboard(keys.Scope{TargetID: "11832"}, "all_time")]["P1"])
}

func TestMalformedItemValueTreatedAsZero(t *testing.T) {
	f := newFakeStore()
	f.hashes[keys.EntityItems("P1", "all_time")] = map[string]string{"11832": "garbage"}
	a := newTestAggregator(f, Options{})

	require.NoError(t, a.Apply(context.Background(), "P1", nil, []event.Event{drop("e1", 50, 1)}, Incremental))

	assert.Equal(t, "1,50", f.hashes[keys.EntityItems("P1", "all_time")]["11832"],
		"corrupt value is overwritten, not fatal")
}

func TestRecentDropsCapped(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{SignificantAmount: 1000, RecentCap: 10})
	ctx := context.Background()

	small := drop("small", 10, 1)
	require.NoError(t, a.Apply(ctx, "P1", []string{"G1"}, []event.Event{small}, Incremental))
	assert.Empty(t, f.lists[keys.EntityRecent("P1", "all_time")], "below-threshold drops stay off the list")

	var events []event.Event
	for i := 0; i < 12; i++ {
		e := drop("", 5000, 1)
		e.ID = "big" + string(rune('a'+i))
		events = append(events, e)
	}
	require.NoError(t, a.Apply(ctx, "P1", []string{"G1"}, events, Incremental))

	assert.Len(t, f.lists[keys.EntityRecent("P1", "all_time")], 10)
	assert.Len(t, f.lists[keys.GroupRecent("G1", "all_time")], 10)

	got, err := a.Recent(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "bigl", got[0].EventID, "newest first")
	assert.Equal(t, int64(5000), got[0].Amount)
}

func TestFlushFailureKeepsGuardUnmarked(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{})
	ctx := context.Background()

	f.failFlush = true
	err := a.Apply(ctx, "P1", nil, []event.Event{drop("e1", 100, 1)}, Incremental)
	require.Error(t, err)

	var fe *FlushError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "P1", fe.EntityID)
	assert.False(t, a.guard.Seen("e1"), "failed flush must not mark the guard")

	// Retrying the whole apply after the store recovers works.
	f.failFlush = false
	f.counters = map[string]int64{} // partial visibility cleaned up for assertion clarity
	require.NoError(t, a.Apply(ctx, "P1", nil, []event.Event{drop("e1", 100, 1)}, Incremental))
	assert.Equal(t, int64(100), f.counters[keys.EntityTotal("P1", "all_time")])
	assert.True(t, a.guard.Seen("e1"))
}

func TestApplyStampsLastSynced(t *testing.T) {
	f := newFakeStore()
	a := newTestAggregator(f, Options{})

	before := time.Now().Unix()
	require.NoError(t, a.Apply(context.Background(), "P1", nil, []event.Event{drop("e1", 100, 1)}, Incremental))

	stamp := f.zsets[keys.LastSynced]["P1"]
	assert.GreaterOrEqual(t, stamp, before)
}

// The worked example: a 1,000,000-total entity receives a 500,000 x2 drop.
func TestWorkedExample(t *testing.T) {
	f := newFakeStore()
	f.counters[keys.EntityTotal("P1", "all_time")] = 1_000_000
	f.zsets[keys.Leaderboard(keys.Scope{}, "all_time")] = map[string]int64{"P1": 1_000_000}
	f.zsets[keys.Leaderboard(keys.Scope{GroupID: "G1"}, "all_time")] = map[string]int64{"P1": 1_000_000}
	a := newTestAggregator(f, Options{})
	ctx := context.Background()

	e1 := drop("e1", 500_000, 2)
	require.NoError(t, a.Apply(ctx, "P1", []string{"G1"}, []event.Event{e1}, Incremental))

	assert.Equal(t, int64(2_000_000), f.counters[keys.EntityTotal("P1", "all_time")])
	assert.Equal(t, int64(2_000_000), f.zsets[keys.Leaderboard(keys.Scope{GroupID: "G1"}, "all_time")]["P1"])

	require.NoError(t, a.Apply(ctx, "P1", []string{"G1"}, []event.Event{e1}, Incremental))
	assert.Equal(t, int64(2_000_000), f.counters[keys.EntityTotal("P1", "all_time")], "idempotent")
}

func TestParseItem(t *testing.T) {
	tests := []struct {
		in     string
		qty    int64
		amount int64
		ok     bool
	}{
		{"2,100", 2, 100, true},
		{"0,0", 0, 0, true},
		{"garbage", 0, 0, false},
		{"1;2", 0, 0, false},
		{"x,2", 0, 0, false},
		{"1,y", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		qty, amount, ok := parseItem(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.qty, qty, tt.in)
		assert.Equal(t, tt.amount, amount, tt.in)
	}
}
