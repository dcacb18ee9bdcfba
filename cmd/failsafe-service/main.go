package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/everkeep/everkeep/server/internal/api"
	"github.com/everkeep/everkeep/server/internal/config"
	"github.com/everkeep/everkeep/server/internal/dispatch"
	"github.com/everkeep/everkeep/server/internal/events"
	"github.com/everkeep/everkeep/server/internal/factory"
	"github.com/everkeep/everkeep/server/internal/health"
	"github.com/everkeep/everkeep/server/internal/logger"
	"github.com/everkeep/everkeep/server/internal/recovery"
	"github.com/everkeep/everkeep/server/internal/services"
)

func main() {
	// Optional build-target flag override (local | cloud-dev | cloud)
	buildTarget := flag.String("build-target", "", "Override BUILD_TARGET (local, cloud-dev, cloud)")
	flag.Parse()

	log := logger.New("failsafe-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *buildTarget != "" {
		cfg.BuildTarget = *buildTarget
		if err := cfg.ResolveDefaults(); err != nil {
			log.Fatal().Err(err).Msg("Invalid build-target override")
		}
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Msg("Failsafe service starting…")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -------- Storage layer -----------------
	st, db, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Store unavailable")
	}
	defer func() { _ = db.Close() }()

	// -------- Domain wiring -----------------
	disp := dispatch.NewWebhookDispatcher(cfg.GatewayURL, cfg.GatewayToken, cfg.DispatchTimeout)
	bus := events.NewBus(cfg.EventBusBuffer)
	defer bus.Close()
	svc := services.NewConditionService(st, disp, bus, log)
	mon := recovery.NewMonitor(st, disp, bus, recovery.Config{
		Interval:        cfg.RecoveryInterval,
		StuckThreshold:  cfg.StuckAfter,
		DispatchTimeout: cfg.DispatchTimeout,
	}, log)

	// -------- Health monitor ----------------
	var pinger health.HealthPinger
	if p, ok := st.(health.HealthPinger); ok {
		pinger = p
	}
	storeChecker := health.NewPingChecker("store", pinger, log, 2*time.Second)
	svcHealth := health.NewServiceHealthChecker(log, storeChecker)
	go storeChecker.Start(ctx, 30*time.Second)
	go svcHealth.Start(ctx, 30*time.Second)

	// -------- Router & Server ---------------
	router := api.NewRouter(svc, svcHealth.IsHealthy, pinger, mon)
	server := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	log.Info().Msg("Shutting down server…")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
