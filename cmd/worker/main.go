package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/broadcast-engine/internal/bootstrap"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL is required for the dispatch worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.NewInfra(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("infrastructure initialization failed", zap.Error(err))
	}
	defer infra.Close() //nolint:errcheck

	mq, err := infra.RabbitMQ(ctx)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}

	worker, err := infra.NewDispatchWorker()
	if err != nil {
		logger.Fatal("dispatch worker initialization failed", zap.Error(err))
	}

	consumer := queue.NewRabbitMQConsumer(mq, 1, logger)
	workerService, err := service.NewWorkerService(consumer, worker, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	logger.Info("broadcast-engine worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := workerService.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("broadcast-engine worker stopped")
}
