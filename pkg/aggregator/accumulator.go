package aggregator

import (
	"sort"
	"strconv"
	"strings"

	"github.com/droptally/droptally/pkg/event"
	"github.com/droptally/droptally/pkg/keys"
)

// itemTotals is one target's slice of a window: how many dropped and what
// they were worth.
type itemTotals struct {
	Quantity int64
	Amount   int64
}

// window accumulates one entity's contributions inside a single time window.
// All arithmetic happens here, locally, before anything is flushed; the store
// only ever sees the finished numbers.
type window struct {
	timeScope string
	gran      keys.Granularity
	total     int64
	items     map[string]*itemTotals
	sources   map[string]int64
}

// accumulator fans events out across every granularity. A batch may span
// several days of catch-up, so each granularity can produce more than one
// window.
type accumulator struct {
	windows map[string]*window
}

func newAccumulator() *accumulator {
	return &accumulator{windows: make(map[string]*window)}
}

func (a *accumulator) add(e event.Event) {
	amount := e.Contribution()
	for _, g := range keys.Granularities {
		ts := keys.TimeScope(g, e.OccurredAt)
		w, ok := a.windows[ts]
		if !ok {
			w = &window{
				timeScope: ts,
				gran:      g,
				items:     make(map[string]*itemTotals),
				sources:   make(map[string]int64),
			}
			a.windows[ts] = w
		}
		w.total += amount
		it, ok := w.items[e.TargetID]
		if !ok {
			it = &itemTotals{}
			w.items[e.TargetID] = it
		}
		it.Quantity += e.Quantity
		it.Amount += amount
		w.sources[e.SourceID] += amount
	}
}

// sorted returns the accumulated windows in a stable order so flushes are
// deterministic.
func (a *accumulator) sorted() []*window {
	out := make([]*window, 0, len(a.windows))
	for _, w := range a.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].gran != out[j].gran {
			return out[i].gran < out[j].gran
		}
		return out[i].timeScope < out[j].timeScope
	})
	return out
}

// sortedKeys returns map keys in a stable order.
func sortedKeys[V any](m map[string]V) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// encodeItem renders the "{quantity},{amount}" hash value.
func encodeItem(qty, amount int64) string {
	return strconv.FormatInt(qty, 10) + "," + strconv.FormatInt(amount, 10)
}

// parseItem decodes a "{quantity},{amount}" hash value. ok is false when the
// stored value doesn't parse; callers treat that as zero and overwrite it.
func parseItem(v string) (qty, amount int64, ok bool) {
	q, a, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, false
	}
	qty, err := strconv.ParseInt(q, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	amount, err = strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return qty, amount, true
}
