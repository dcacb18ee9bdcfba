package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/everkeep/everkeep/server/internal/config"
	"github.com/everkeep/everkeep/server/internal/dispatch"
	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/factory"
	"github.com/everkeep/everkeep/server/internal/logger"
	"github.com/everkeep/everkeep/server/internal/recovery"
	"github.com/everkeep/everkeep/server/internal/scheduler"
)

func main() {
	log := logger.New("schedule-worker")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, db, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store open")
	}
	defer func() { _ = db.Close() }()

	disp := dispatch.NewWebhookDispatcher(cfg.GatewayURL, cfg.GatewayToken, cfg.DispatchTimeout)
	bus := events.NewBus(cfg.EventBusBuffer)
	defer bus.Close()

	w := scheduler.NewWorker(st, disp, bus, scheduler.Config{
		BatchSize:       cfg.WorkerBatchSize,
		Interval:        cfg.WorkerInterval,
		Parallelism:     cfg.WorkerParallelism,
		DispatchTimeout: cfg.DispatchTimeout,
		RetryDelay:      cfg.RetryDelay,
		MaxAttempts:     cfg.RetryMaxAttempts,
	}, log)

	mon := recovery.NewMonitor(st, disp, bus, recovery.Config{
		Interval:        cfg.RecoveryInterval,
		StuckThreshold:  cfg.StuckAfter,
		DispatchTimeout: cfg.DispatchTimeout,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("schedule worker exit")
		os.Exit(1)
	}
}
