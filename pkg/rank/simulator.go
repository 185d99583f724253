package rank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/metrics"
)

// Movement is the before/after standing resulting from a hypothetical extra
// contribution. Change is positive when the rank improved.
type Movement struct {
	OldRank  int   `json:"old_rank"`
	NewRank  int   `json:"new_rank"`
	OldTotal int64 `json:"old_total"`
	NewTotal int64 `json:"new_total"`
	Change   int   `json:"change"`
}

// RankDelta is the full simulation result handed to the notification
// dispatcher: the entity's global movement, its movement inside each of its
// groups, and each of those groups' own movement among all groups.
type RankDelta struct {
	PlayerGlobal  Movement            `json:"player_global"`
	PlayerInGroup map[string]Movement `json:"player_in_group,omitempty"`
	Group         map[string]Movement `json:"group,omitempty"`
}

// Simulator answers rank-change questions against the snapshot cache. It
// never writes: neither the snapshot nor the store is touched.
type Simulator struct {
	cache  *Cache
	logger *zap.Logger
}

// NewSimulator builds a Simulator over the given snapshot cache.
func NewSimulator(cache *Cache, logger *zap.Logger) *Simulator {
	return &Simulator{cache: cache, logger: logger}
}

// Simulate computes the rank movement if entityID gained delta on top of its
// current all-time total. groupFilter, when non-empty, restricts the result
// to that single group; if the entity is not a member the result is empty,
// not an error. An entity with no recorded totals yields a zeroed delta.
func (s *Simulator) Simulate(ctx context.Context, entityID string, delta int64, groupFilter string) (RankDelta, error) {
	snap, err := s.cache.Current(ctx)
	if err != nil {
		return RankDelta{}, err
	}
	metrics.Simulations.Inc()

	global, ok := snap.Entity(entityID)
	if !ok {
		return RankDelta{}, nil
	}

	groups := snap.GroupsOf(entityID)
	if groupFilter != "" {
		if _, member := snap.Member(groupFilter, entityID); !member {
			return RankDelta{}, nil
		}
		groups = []string{groupFilter}
	}

	out := RankDelta{
		PlayerGlobal:  move(snap.Entities(), global, delta),
		PlayerInGroup: make(map[string]Movement, len(groups)),
		Group:         make(map[string]Movement, len(groups)),
	}

	for _, gid := range groups {
		member, ok := snap.Member(gid, entityID)
		if !ok {
			continue
		}
		out.PlayerInGroup[gid] = move(snap.Members(gid), member, delta)

		if gst, ok := snap.Group(gid); ok {
			out.Group[gid] = move(snap.Groups(), gst, delta)
		}
	}
	return out, nil
}

// move recomputes current's rank within standings after adding delta to its
// total. standings is sorted best-first; a binary search finds the insertion
// point, so no per-call re-sort is needed.
func move(standings []Standing, current Standing, delta int64) Movement {
	newTotal := current.Total + delta
	newRank := simulatedRank(standings, current.ID, current.Rank, newTotal)
	return Movement{
		OldRank:  current.Rank,
		NewRank:  newRank,
		OldTotal: current.Total,
		NewTotal: newTotal,
		Change:   current.Rank - newRank,
	}
}

// simulatedRank returns 1 plus the number of other members that stay ahead of
// self after its total becomes newTotal: everyone with a strictly greater
// total, plus tied members that preceded self in the snapshot. Ties keep
// snapshot order, as a stable re-sort would leave them. oldRank (1-based)
// locates self so it is not counted against itself.
func simulatedRank(standings []Standing, selfID string, oldRank int, newTotal int64) int {
	// End of the strictly-greater run.
	gt := sort.Search(len(standings), func(i int) bool {
		return standings[i].Total <= newTotal
	})
	// End of the tie run.
	ge := sort.Search(len(standings), func(i int) bool {
		return standings[i].Total < newTotal
	})

	ahead := gt
	self := oldRank - 1
	switch {
	case self >= 0 && self < gt && standings[self].ID == selfID:
		// Self lost ground down to newTotal; it still precedes the tie run.
		ahead--
	case self >= ge:
		// Self rose into the tie run from below; every tie stays ahead.
		ahead += ge - gt
	case self > gt:
		// Self already sat inside the tie run at this total.
		ahead += self - gt
	}
	return ahead + 1
}
