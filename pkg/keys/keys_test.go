package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeScope(t *testing.T) {
	at := time.Date(2026, 8, 31, 14, 7, 9, 0, time.UTC)

	tests := []struct {
		name string
		gran Granularity
		want string
	}{
		{"all time", AllTime, "all_time"},
		{"month", Month, "202608"},
		{"day", Day, "daily:20260831"},
		{"hour", Hour, "hourly:2026083114"},
		{"minute", Minute, "minute:202608311407"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TimeScope(tt.gran, at))
		})
	}
}

func TestTimeScopeUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	local := time.Date(2026, 9, 1, 2, 0, 0, 0, loc) // still Aug 31 in UTC
	assert.Equal(t, "daily:20260831", TimeScope(Day, local))
}

func TestLeaderboardQualifierOrder(t *testing.T) {
	key := Leaderboard(Scope{GroupID: "7", SourceID: "9425", TargetID: "11832"}, "all_time")
	assert.Equal(t, "leaderboard:group:7:source:9425:target:11832:all_time", key)

	assert.Equal(t, "leaderboard:all_time", Leaderboard(Scope{}, "all_time"))
	assert.Equal(t, "leaderboard:group:7:daily:20260831", Leaderboard(Scope{GroupID: "7"}, "daily:20260831"))
	assert.Equal(t, "leaderboard:source:9425:202608", Leaderboard(Scope{SourceID: "9425"}, "202608"))
	assert.Equal(t, "leaderboard:target:11832:all_time", Leaderboard(Scope{TargetID: "11832"}, "all_time"))
}

func TestLeaderboardInjective(t *testing.T) {
	scopes := []Scope{
		{},
		{GroupID: "1"},
		{GroupID: "1", SourceID: "2"},
		{SourceID: "2"},
		{TargetID: "2"},
		{SourceID: "2", TargetID: "3"},
	}
	seen := map[string]bool{}
	for _, s := range scopes {
		key := Leaderboard(s, "all_time")
		require.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestGroupFromLeaderboard(t *testing.T) {
	gid, ok := GroupFromLeaderboard("leaderboard:group:42:all_time", "all_time")
	require.True(t, ok)
	assert.Equal(t, "42", gid)

	gid, ok = GroupFromLeaderboard("leaderboard:group:42:daily:20260831", "daily:20260831")
	require.True(t, ok)
	assert.Equal(t, "42", gid)

	_, ok = GroupFromLeaderboard("leaderboard:all_time", "all_time")
	assert.False(t, ok)
	_, ok = GroupFromLeaderboard("leaderboard:source:9425:all_time", "all_time")
	assert.False(t, ok)

	// Combined boards also match the SCAN glob but are not group boards.
	_, ok = GroupFromLeaderboard("leaderboard:group:7:source:9425:all_time", "all_time")
	assert.False(t, ok)
	_, ok = GroupFromLeaderboard("leaderboard:group:7:target:11832:all_time", "all_time")
	assert.False(t, ok)

	// Wrong time scope for the shape.
	_, ok = GroupFromLeaderboard("leaderboard:group:7:all_time", "daily:20260831")
	assert.False(t, ok)
}

func TestTTLs(t *testing.T) {
	assert.Equal(t, time.Duration(0), AllTime.TTL())
	assert.Equal(t, time.Duration(0), Month.TTL())
	assert.Equal(t, 30*24*time.Hour, Day.TTL())
	assert.Equal(t, 7*24*time.Hour, Hour.TTL())
	assert.Equal(t, 24*time.Hour, Minute.TTL())
}

func TestEntityKeys(t *testing.T) {
	assert.Equal(t, "entity:P1:all_time:total_amount", EntityTotal("P1", "all_time"))
	assert.Equal(t, "entity:P1:202608:items", EntityItems("P1", "202608"))
	assert.Equal(t, "entity:P1:daily:20260831:sources", EntitySources("P1", "daily:20260831"))
	assert.Equal(t, "entity:P1:all_time:recent", EntityRecent("P1", "all_time"))
	assert.Equal(t, "group:G1:all_time:recent", GroupRecent("G1", "all_time"))
}
