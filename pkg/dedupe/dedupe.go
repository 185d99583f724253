// Package dedupe provides a bounded recency set of applied event ids. It is a
// guard, not a ledger: forgetting an old id is acceptable, claiming to have
// seen an id it was never given is not.
package dedupe

import "sync"

// DefaultCapacity bounds how many recently applied event ids are remembered.
const DefaultCapacity = 250

// Guard remembers the most recently marked event ids in a fixed-size FIFO
// ring. Once capacity is exceeded the oldest entry is evicted regardless of
// how often it was checked (drop-oldest, not LRU). Safe for concurrent use.
// State is in-process only; a restart forgets everything.
type Guard struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

// New returns a Guard holding at most capacity ids. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Seen reports whether id is currently remembered.
func (g *Guard) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[id]
	return ok
}

// Mark records id, evicting the oldest remembered id if the ring is full.
// Marking an id that is already present is a no-op.
func (g *Guard) Mark(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return
	}
	if old := g.ring[g.next]; old != "" {
		delete(g.seen, old)
	}
	g.ring[g.next] = id
	g.seen[id] = struct{}{}
	g.next = (g.next + 1) % len(g.ring)
}

// Len returns the number of ids currently remembered.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
