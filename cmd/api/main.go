package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/broadcast-engine/internal/bootstrap"
	"github.com/kursadbilgin/broadcast-engine/internal/handler"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/service"
	"github.com/kursadbilgin/broadcast-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

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
	worker, err := infra.NewDispatchWorker()
	if err != nil {
		logger.Fatal("dispatch worker initialization failed", zap.Error(err))
	}
	broadcasts, err := service.NewBroadcastService(infra.Broadcasts, infra.Recipients, inv, logger)
	if err != nil {
		logger.Fatal("broadcast service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "broadcast-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(infra.Metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, handler.PostgresCheck(infra.SQLDB), handler.RedisCheck(infra.Redis))
	handler.RegisterMetricsRoute(app, infra.Metrics.Handler())
	if err := handler.RegisterFunctionRoutes(app, handler.FunctionDeps{
		Coordinator:    coordinator,
		Scheduler:      scheduler,
		Worker:         worker,
		Broadcasts:     broadcasts,
		Flags:          infra.FeatureFlags(),
		ServiceRoleKey: cfg.ServiceRoleKey,
	}); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("broadcast-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.String("transport", cfg.DispatchTransport),
	)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	logger.Info("shutting down api")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
