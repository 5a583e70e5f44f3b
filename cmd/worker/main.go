package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"framestack/internal/bootstrap"
	"framestack/internal/config"
	"framestack/internal/log"
	"framestack/internal/queue"
	"framestack/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}
	defer app.Close()

	if app.Redis == nil {
		logger.Fatal().Msg("worker needs redis.addr")
	}

	processor := tasks.NewProcessor(app.Reaper, app.Sweeper, logger.With().Str("component", "processor").Logger())
	consumer := queue.NewConsumer(app.Redis, queue.ConsumerOptions{
		Stream:        cfg.Queue.Stream,
		Group:         cfg.Queue.Group,
		Consumer:      cfg.Queue.Consumer,
		ClaimInterval: cfg.Queue.ClaimInterval,
		MaxDeliveries: cfg.Queue.MaxDeliveries,
	}, logger, processor)

	logger.Info().Str("stream", cfg.Queue.Stream).Str("consumer", cfg.Queue.Consumer).Msg("worker started")
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("consumer stopped unexpectedly")
		return
	}
	logger.Info().Msg("worker exited cleanly")
}
