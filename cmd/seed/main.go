// Command seed pushes synthetic drop events through the aggregator against a
// live aggregation store, then prints a sample rank simulation. Useful for
// smoke-testing a deployment and for populating a development store.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/droptally/droptally/pkg/aggregator"
	"github.com/droptally/droptally/pkg/dedupe"
	"github.com/droptally/droptally/pkg/event"
	"github.com/droptally/droptally/pkg/logging"
	"github.com/droptally/droptally/pkg/rank"
	"github.com/droptally/droptally/pkg/store"
)

func main() {
	var (
		entities = flag.Int("entities", 25, "number of synthetic entities")
		events   = flag.Int("events", 40, "events per entity")
		groups   = flag.Int("groups", 4, "number of groups to spread entities over")
	)
	flag.Parse()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	st, err := store.NewClient(ctx, logger, store.Options{})
	if err != nil {
		logger.Fatal("seed: " + err.Error())
	}
	defer st.Close()

	agg := aggregator.New(st, dedupe.New(0), logger, aggregator.Options{
		SignificantAmount: 1_000_000,
		RecentCap:         10,
	})

	sources := []string{"9425", "8061", "11278", "12077"}
	targets := []string{"11832", "21003", "22486", "20997"}

	var first string
	for i := 0; i < *entities; i++ {
		entityID := fmt.Sprintf("seed-%d", i)
		if first == "" {
			first = entityID
		}
		gid := fmt.Sprintf("%d", 1+i%*groups)

		batch := make([]event.Event, 0, *events)
		for j := 0; j < *events; j++ {
			batch = append(batch, event.Event{
				ID:         uuid.NewString(),
				EntityID:   entityID,
				SourceID:   sources[rand.Intn(len(sources))],
				TargetID:   targets[rand.Intn(len(targets))],
				Value:      int64(1_000 + rand.Intn(2_000_000)),
				Quantity:   int64(1 + rand.Intn(3)),
				OccurredAt: time.Now().Add(-time.Duration(rand.Intn(72)) * time.Hour),
			})
		}
		if err := agg.Apply(ctx, entityID, []string{gid}, batch, aggregator.Incremental); err != nil {
			logger.Fatal("seed: " + err.Error())
		}
	}

	ranks := rank.NewCache(st, logger, rank.DefaultRefreshInterval, "0")
	sim := rank.NewSimulator(ranks, logger)
	delta, err := sim.Simulate(ctx, first, 5_000_000, "")
	if err != nil {
		logger.Fatal("seed: " + err.Error())
	}
	fmt.Printf("%s: rank %d -> %d (total %d -> %d)\n",
		first,
		delta.PlayerGlobal.OldRank, delta.PlayerGlobal.NewRank,
		delta.PlayerGlobal.OldTotal, delta.PlayerGlobal.NewTotal)
}
