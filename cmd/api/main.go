package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"framestack/internal/bootstrap"
	"framestack/internal/config"
	"framestack/internal/handlers"
	"framestack/internal/jobs"
	"framestack/internal/log"
	"framestack/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}

	httpServer := server.NewHTTPServer(cfg, logger, handlers.NewHandlerSet(app), app.Metrics)

	var scheduler *jobs.Scheduler
	if app.Tasks != nil {
		scheduler = jobs.NewScheduler(app.Tasks, cfg.Sweep.Schedule, logger.With().Str("component", "scheduler").Logger())
		if err := scheduler.Start(); err != nil {
			logger.Error().Err(err).Msg("scheduler start failed")
		}
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, app)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, app *bootstrap.App) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if scheduler != nil {
		scheduler.Stop(5 * time.Second)
	}

	app.Shutdown(shutdownCtx)

	logger.Info().Msg("server exited cleanly")
}
