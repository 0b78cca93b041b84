package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/invoicing/internal/bootstrap"
	infraRedis "github.com/cassiomorais/invoicing/internal/infrastructure/redis"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/cassiomorais/invoicing/internal/worker"
	"github.com/cassiomorais/invoicing/pkg/keylock"
	"github.com/cassiomorais/invoicing/pkg/retry"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "invoicing-worker", "invoicing_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svcs, err := app.Services()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire services")
	}

	workerCfg := app.Config.Worker
	reconCfg := app.Config.Reconciliation
	producer := infraRedis.NewStreamProducer(app.Redis)

	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.RefreshStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create consumer group")
	}

	// One attempt: an instance that loses the race skips the round.
	var leader service.Locker = infraRedis.NewLocker(app.Redis, reconCfg.SweepInterval, 1, 0, nil)
	if reconCfg.LockBackend == "local" {
		leader = keylock.New()
	}

	relay := worker.NewOutboxRelay(
		svcs.OutboxRepo, svcs.TxManager, producer, int(workerCfg.BatchSize),
		retry.Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		app.Metrics, app.Logger.With().Str("loop", "outbox").Logger(),
	)
	sweeper := worker.NewSweeper(
		svcs.InvoiceRepo, leader, producer, reconCfg.StaleAfter, reconCfg.SweepBatchSize,
		app.Metrics, app.Logger.With().Str("loop", "sweeper").Logger(),
	)
	refresher := worker.NewRefreshConsumer(
		consumer, svcs.Checkout, producer,
		worker.RefreshConsumerConfig{
			Concurrency: reconCfg.SweepConcurrency,
			MaxAttempts: int(workerCfg.MaxDeliveries),
			ClaimAfter:  reconCfg.LockTTL + app.Config.Chargily.Timeout,
		},
		app.Metrics, app.Logger.With().Str("loop", "refresh").Logger(),
	)
	housekeeper := worker.NewHousekeeper(
		svcs.IdempotencyRepo, svcs.OutboxRepo, workerCfg.OutboxRetention,
		app.Logger.With().Str("loop", "housekeeping").Logger(),
	)

	app.Logger.Info().
		Str("stream", infraRedis.RefreshStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(gCtx, workerCfg.OutboxPollInterval) })
	g.Go(func() error { return sweeper.Run(gCtx, reconCfg.SweepInterval) })
	g.Go(func() error { return refresher.Run(gCtx) })
	g.Go(func() error { return housekeeper.Run(gCtx, workerCfg.CleanupInterval) })

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
