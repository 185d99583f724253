// Package rank maintains a read-mostly snapshot of global and group standings
// and answers "would this drop change anyone's rank?" without touching
// committed state.
package rank

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/keys"
	"github.com/droptally/droptally/pkg/metrics"
	"github.com/droptally/droptally/pkg/store"
)

// DefaultRefreshInterval is how long a snapshot stays fresh.
const DefaultRefreshInterval = 5 * time.Minute

// Reader is the slice of the aggregation store the snapshot builder needs.
// *store.Client satisfies it.
type Reader interface {
	ZRangeWithScores(ctx context.Context, key string) ([]store.Member, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

// Standing is one row of a ranking: an id, its total, and its rank
// (1 = best).
type Standing struct {
	ID    string
	Total int64
	Rank  int
}

// Snapshot is an immutable view of the all-time standings at a point in time.
// Callers capture one from Cache.Current and read it freely; it is never
// mutated after construction.
type Snapshot struct {
	AsOf time.Time

	entities  []Standing
	entityIdx map[string]int

	groups   []Standing
	groupIdx map[string]int

	members   map[string][]Standing
	memberIdx map[string]map[string]int

	groupsOf map[string][]string
}

// Entity returns the entity's global standing.
func (s *Snapshot) Entity(id string) (Standing, bool) {
	i, ok := s.entityIdx[id]
	if !ok {
		return Standing{}, false
	}
	return s.entities[i], true
}

// Group returns the group's standing among all groups.
func (s *Snapshot) Group(id string) (Standing, bool) {
	i, ok := s.groupIdx[id]
	if !ok {
		return Standing{}, false
	}
	return s.groups[i], true
}

// Member returns the entity's standing inside one group.
func (s *Snapshot) Member(groupID, entityID string) (Standing, bool) {
	idx, ok := s.memberIdx[groupID]
	if !ok {
		return Standing{}, false
	}
	i, ok := idx[entityID]
	if !ok {
		return Standing{}, false
	}
	return s.members[groupID][i], true
}

// GroupsOf returns the ids of the groups the entity belongs to, sorted.
func (s *Snapshot) GroupsOf(entityID string) []string {
	return s.groupsOf[entityID]
}

// Entities returns the global standings, best first. Read-only.
func (s *Snapshot) Entities() []Standing { return s.entities }

// Groups returns the group standings, best first. Read-only.
func (s *Snapshot) Groups() []Standing { return s.groups }

// Members returns one group's standings, best first. Read-only.
func (s *Snapshot) Members(groupID string) []Standing { return s.members[groupID] }

// Cache hands out the current snapshot, rebuilding it wholesale once it is
// older than the refresh interval. Rebuilds are idempotent; two callers
// racing on a stale snapshot may both rebuild, which is accepted.
type Cache struct {
	reader    Reader
	logger    *zap.Logger
	refresh   time.Duration
	reserved  string
	timeScope string

	mu   sync.RWMutex
	snap *Snapshot
}

// NewCache builds a snapshot cache over the all-time standings. reserved is
// the catch-all group id excluded from every ranking.
func NewCache(r Reader, logger *zap.Logger, refresh time.Duration, reserved string) *Cache {
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	return &Cache{
		reader:    r,
		logger:    logger,
		refresh:   refresh,
		reserved:  reserved,
		timeScope: keys.TimeScope(keys.AllTime, time.Time{}),
	}
}

// Current returns a fresh-enough snapshot, rebuilding lazily when stale.
func (c *Cache) Current(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil && time.Since(snap.AsOf) <= c.refresh {
		return snap, nil
	}
	return c.ForceRefresh(ctx)
}

// ForceRefresh rebuilds unconditionally and resets the staleness clock.
func (c *Cache) ForceRefresh(ctx context.Context) (*Snapshot, error) {
	snap, err := c.rebuild(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	metrics.SnapshotRebuilds.Inc()
	return snap, nil
}

func (c *Cache) rebuild(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		AsOf:      time.Now(),
		entityIdx: map[string]int{},
		groupIdx:  map[string]int{},
		members:   map[string][]Standing{},
		memberIdx: map[string]map[string]int{},
		groupsOf:  map[string][]string{},
	}

	globals, err := c.reader.ZRangeWithScores(ctx, keys.Leaderboard(keys.Scope{}, c.timeScope))
	if err != nil {
		return nil, err
	}
	snap.entities = rankMembers(globals)
	for i, st := range snap.entities {
		snap.entityIdx[st.ID] = i
	}

	boardKeys, err := c.reader.ScanKeys(ctx, keys.GroupLeaderboardPattern(c.timeScope))
	if err != nil {
		return nil, err
	}
	sort.Strings(boardKeys)

	groupTotals := make([]store.Member, 0, len(boardKeys))
	for _, key := range boardKeys {
		gid, ok := keys.GroupFromLeaderboard(key, c.timeScope)
		if !ok || gid == c.reserved {
			continue
		}
		members, err := c.reader.ZRangeWithScores(ctx, key)
		if err != nil {
			return nil, err
		}
		ranked := rankMembers(members)
		snap.members[gid] = ranked
		idx := make(map[string]int, len(ranked))
		var total int64
		for i, st := range ranked {
			idx[st.ID] = i
			total += st.Total
			snap.groupsOf[st.ID] = append(snap.groupsOf[st.ID], gid)
		}
		snap.memberIdx[gid] = idx
		groupTotals = append(groupTotals, store.Member{ID: gid, Score: total})
	}

	snap.groups = rankMembers(groupTotals)
	for i, st := range snap.groups {
		snap.groupIdx[st.ID] = i
	}
	for _, gids := range snap.groupsOf {
		sort.Strings(gids)
	}

	c.logger.Debug("Rebuilt rank snapshot",
		zap.Int("entities", len(snap.entities)),
		zap.Int("groups", len(snap.groups)))
	return snap, nil
}

// rankMembers sorts members by score descending, stable on input order, and
// assigns 1-based ranks.
func rankMembers(ms []store.Member) []Standing {
	out := make([]Standing, 0, len(ms))
	for _, m := range ms {
		out = append(out, Standing{ID: m.ID, Total: m.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
