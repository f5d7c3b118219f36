package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/bootstrap"
	"github.com/kursadbilgin/broadcast-engine/internal/cronjob"
	infraredis "github.com/kursadbilgin/broadcast-engine/internal/infra/redis"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	jobTimeout      = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.NewInfra(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("infrastructure initialization failed", zap.Error(err))
	}
	defer infra.Close() //nolint:errcheck

	inv, err := infra.NewInvoker(ctx)
	if err != nil {
		logger.Fatal("dispatch invoker initialization failed", zap.Error(err))
	}
	scheduler, err := infra.NewScheduler(inv)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}
	coordinator, err := infra.NewCoordinator(inv)
	if err != nil {
		logger.Fatal("coordinator initialization failed", zap.Error(err))
	}
	lock, err := infraredis.NewJobLock(infra.Redis)
	if err != nil {
		logger.Fatal("job lock initialization failed", zap.Error(err))
	}

	runner := cronjob.NewRunner(lock, logger)
	runner.SetMetrics(infra.Metrics)

	jobs := []cronjob.Job{
		{
			Name:     "check-scheduled-broadcasts",
			Schedule: cfg.SchedulerCron,
			Timeout:  jobTimeout,
			Run: func(ctx context.Context) error {
				_, err := scheduler.CheckDue(ctx)
				return err
			},
		},
		{
			Name:     "resume-stalled-broadcasts",
			Schedule: cfg.ResumeCron,
			Timeout:  jobTimeout,
			Run: func(ctx context.Context) error {
				_, err := coordinator.ResumeStalled(ctx)
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := runner.Add(job); err != nil {
			logger.Fatal("cron job registration failed", zap.Error(err))
		}
	}

	runner.Start(ctx)
	logger.Info("broadcast-engine scheduler started", zap.String("transport", cfg.DispatchTransport))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		logger.Error("scheduler shutdown incomplete", zap.Error(err))
	}
}
