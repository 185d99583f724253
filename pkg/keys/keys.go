// Package keys maps logical scopes and time granularities onto the canonical
// key names used in the aggregation store. Everything here is pure: two calls
// with the same logical scope always yield the same key, and distinct scopes
// never collide because qualifier order is fixed (group, source, target, time).
package keys

import (
	"fmt"
	"strings"
	"time"
)

// Granularity is the time window size for a partition.
type Granularity int

const (
	AllTime Granularity = iota
	Month
	Day
	Hour
	Minute
)

// Granularities lists every window a write fans out to, coarsest first.
var Granularities = []Granularity{AllTime, Month, Day, Hour, Minute}

// Retention per granularity. Zero means keep forever.
const (
	DayTTL    = 30 * 24 * time.Hour
	HourTTL   = 7 * 24 * time.Hour
	MinuteTTL = 24 * time.Hour
)

// TTL returns the retention for keys at the given granularity, zero for
// windows that are kept indefinitely.
func (g Granularity) TTL() time.Duration {
	switch g {
	case Day:
		return DayTTL
	case Hour:
		return HourTTL
	case Minute:
		return MinuteTTL
	default:
		return 0
	}
}

func (g Granularity) String() string {
	switch g {
	case AllTime:
		return "all_time"
	case Month:
		return "month"
	case Day:
		return "daily"
	case Hour:
		return "hourly"
	case Minute:
		return "minute"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// TimeScope renders the partition label for t at granularity g:
// all_time, 200601, daily:20060102, hourly:2006010215, minute:200601021504.
// Timestamps are partitioned in UTC so the same instant always lands in the
// same window regardless of where the event was ingested.
func TimeScope(g Granularity, t time.Time) string {
	t = t.UTC()
	switch g {
	case AllTime:
		return "all_time"
	case Month:
		return t.Format("200601")
	case Day:
		return "daily:" + t.Format("20060102")
	case Hour:
		return "hourly:" + t.Format("2006010215")
	case Minute:
		return "minute:" + t.Format("200601021504")
	default:
		return "all_time"
	}
}

// Scope qualifies a leaderboard beyond its time window. Zero value means the
// unscoped global board.
type Scope struct {
	GroupID  string
	SourceID string
	TargetID string
}

// Leaderboard resolves the sorted-set key for scope at the given time scope,
// e.g. leaderboard:group:42:source:9425:all_time. Member is the entity id,
// score its total for that slice.
func Leaderboard(s Scope, timeScope string) string {
	var b strings.Builder
	b.WriteString("leaderboard:")
	if s.GroupID != "" {
		b.WriteString("group:")
		b.WriteString(s.GroupID)
		b.WriteByte(':')
	}
	if s.SourceID != "" {
		b.WriteString("source:")
		b.WriteString(s.SourceID)
		b.WriteByte(':')
	}
	if s.TargetID != "" {
		b.WriteString("target:")
		b.WriteString(s.TargetID)
		b.WriteByte(':')
	}
	b.WriteString(timeScope)
	return b.String()
}

// GroupLeaderboardPattern matches every group-scoped board at a time scope,
// for discovery via SCAN.
func GroupLeaderboardPattern(timeScope string) string {
	return "leaderboard:group:*:" + timeScope
}

// GroupFromLeaderboard extracts the group id from a key produced by
// Leaderboard with only a group qualifier at the given time scope. Returns
// false for any other shape, including boards carrying further qualifiers
// (source, target) that the SCAN glob also matches.
func GroupFromLeaderboard(key, timeScope string) (string, bool) {
	rest, ok := strings.CutPrefix(key, "leaderboard:group:")
	if !ok {
		return "", false
	}
	gid, tail, ok := strings.Cut(rest, ":")
	if !ok || gid == "" || tail != timeScope {
		return "", false
	}
	return gid, true
}

// Entity aggregate keys.

func EntityTotal(entityID, timeScope string) string {
	return "entity:" + entityID + ":" + timeScope + ":total_amount"
}

func EntityItems(entityID, timeScope string) string {
	return "entity:" + entityID + ":" + timeScope + ":items"
}

func EntitySources(entityID, timeScope string) string {
	return "entity:" + entityID + ":" + timeScope + ":sources"
}

// EntityRecent is the capped list of recent significant drops for an entity.
func EntityRecent(entityID, timeScope string) string {
	return "entity:" + entityID + ":" + timeScope + ":recent"
}

// GroupRecent is the capped list of recent significant drops across a group.
func GroupRecent(groupID, timeScope string) string {
	return "group:" + groupID + ":" + timeScope + ":recent"
}

// LastSynced is the sorted set driving reconciliation: member is the entity
// id, score the unix time of its last successful sync or refresh.
const LastSynced = "reconcile:last_synced"
