package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/droptally/droptally/app/tracker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := tracker.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	// Warm the rank snapshot before serving simulations.
	if _, err := app.Ranks.ForceRefresh(ctx); err != nil {
		app.Logger.Warn("Initial snapshot build failed, will retry lazily", zap.Error(err))
	}

	app.StartCron()

	app.SetupServer()
	app.Start(ctx)
}
