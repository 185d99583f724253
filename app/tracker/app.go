// Package tracker wires the aggregation engine into a running service: store
// client, write path, rank snapshot cache, simulator, and the cron-driven
// reconciliation loop, plus an ops HTTP server for health and metrics.
package tracker

import (
	"context"
	"net/http"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/droptally/droptally/pkg/aggregator"
	"github.com/droptally/droptally/pkg/config"
	"github.com/droptally/droptally/pkg/dedupe"
	"github.com/droptally/droptally/pkg/event"
	"github.com/droptally/droptally/pkg/logging"
	"github.com/droptally/droptally/pkg/rank"
	"github.com/droptally/droptally/pkg/reconcile"
	"github.com/droptally/droptally/pkg/retry"
	"github.com/droptally/droptally/pkg/store"
)

// App owns every long-lived component of the tracker service.
type App struct {
	Logger     *zap.Logger
	Config     *config.Config
	Store      *store.Client
	Guard      *dedupe.Guard
	Aggregator *aggregator.Aggregator
	Ranks      *rank.Cache
	Simulator  *rank.Simulator
	Breaker    *reconcile.Breaker
	Loop       *reconcile.Loop

	// Cron triggers reconciliation ticks according to Config.Reconcile.CronSpec.
	Cron *cron.Cron

	// Server is the ops HTTP server (health, readiness, metrics).
	Server *http.Server

	// pool bounds concurrent Apply calls from the ingestion paths without
	// serializing distinct entities.
	pool pond.Pool
}

// Initialize builds the full application. The store connection is retried
// with backoff so the service survives a store restart at boot.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Unable to load configuration", zap.Error(err))
	}

	var st *store.Client
	connectErr := retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "connect aggregation store", func() error {
		var err error
		st, err = store.NewClient(ctx, logger, store.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			FlushEvery: cfg.Redis.FlushEvery,
		})
		return err
	})
	if connectErr != nil {
		return nil, connectErr
	}

	guard := dedupe.New(cfg.Aggregate.GuardCapacity)
	agg := aggregator.New(st, guard, logger, aggregator.Options{
		SignificantAmount: cfg.Aggregate.SignificantAmount,
		RecentCap:         cfg.Aggregate.RecentCap,
		ReservedGroupID:   cfg.Ranks.ReservedGroupID,
	})
	ranks := rank.NewCache(st, logger, cfg.Ranks.RefreshInterval, cfg.Ranks.ReservedGroupID)
	breaker := reconcile.NewBreaker(cfg.Reconcile.BreakerThreshold, cfg.Reconcile.BreakerCooldown, logger)
	refresher := reconcile.NewRefresher(cfg.Reconcile.RefreshURL, cfg.Reconcile.RefreshTimeout, logger)

	app := &App{
		Logger:     logger,
		Config:     cfg,
		Store:      st,
		Guard:      guard,
		Aggregator: agg,
		Ranks:      ranks,
		Simulator:  rank.NewSimulator(ranks, logger),
		Breaker:    breaker,
		Loop:       reconcile.NewLoop(st, refresher, breaker, logger, cfg.Reconcile.StaleAfter, cfg.Reconcile.RefreshTimeout),
		pool:       pond.NewPool(cfg.Aggregate.Workers),
	}

	if err := app.SetupScheduler(cron.DefaultLogger); err != nil {
		return nil, err
	}
	return app, nil
}

// SetupScheduler registers the reconciliation tick on the cron.
func (a *App) SetupScheduler(logger cron.Logger) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(a.Config.Reconcile.CronSpec, func() {
		rctx, cancel := a.tickContext()
		defer cancel()
		if err := a.Loop.Tick(rctx); err != nil {
			a.Logger.Warn("Reconcile tick failed", zap.Error(err))
		}
	})
	return err
}

// tickContext bounds one reconciliation run: one downstream call plus slack.
// It is detached from the signal context so shutdown never cancels a tick
// mid-call; StopCron waits for the in-flight run instead.
func (a *App) tickContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.Config.Reconcile.RefreshTimeout+5*time.Second)
}

// SetupServer sets up the ops HTTP server.
func (a *App) SetupServer() {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.Store.Health(req.Context()) == nil {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	a.Server = &http.Server{Addr: a.Config.Addr, Handler: r}
}

// Submit hands a batch of validated events for one entity to the worker pool.
// After a successful apply, each significant event's rank delta is simulated
// and logged; that log line is the hand-off point for the notification
// dispatcher.
func (a *App) Submit(ctx context.Context, entityID string, groups []string, events []event.Event, mode aggregator.Mode) {
	a.pool.Submit(func() {
		if err := a.Aggregator.Apply(ctx, entityID, groups, events, mode); err != nil {
			a.Logger.Error("Apply failed", zap.String("entity", entityID), zap.Error(err))
			return
		}
		for _, e := range events {
			amount := e.Contribution()
			if amount < a.Config.Aggregate.SignificantAmount {
				continue
			}
			delta, err := a.Simulator.Simulate(ctx, entityID, amount, "")
			if err != nil {
				a.Logger.Warn("Rank simulation failed", zap.String("entity", entityID), zap.Error(err))
				continue
			}
			a.Logger.Info("Rank delta",
				zap.String("entity", entityID),
				zap.String("event", e.ID),
				zap.Int64("amount", amount),
				zap.Int("global_change", delta.PlayerGlobal.Change),
				zap.Int64("new_total", delta.PlayerGlobal.NewTotal))
		}
	})
}

// StartCron starts the reconciliation scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[tracker] Cron started", zap.String("cronSpec", a.Config.Reconcile.CronSpec))
}

// StopCron stops the scheduler and waits for an in-flight tick.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Ready indicates whether the application can serve.
func (a *App) Ready(ctx context.Context) bool {
	return a.Store.Health(ctx) == nil
}

// Start runs the ops server until ctx is cancelled, then shuts everything
// down in dependency order.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	a.Logger.Info("[tracker] shutting down…")
	_ = a.Server.Close()
	a.StopCron()
	a.pool.StopAndWait()
	_ = a.Store.Close()
	_ = a.Logger.Sync()
}
