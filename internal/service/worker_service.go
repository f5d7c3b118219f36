package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// DispatchHandler runs one dispatch request.
type DispatchHandler interface {
	Handle(ctx context.Context, req domain.DispatchRequest) (DispatchResult, error)
}

// WorkerService consumes dispatch requests from RabbitMQ and runs them through the dispatch worker.
type WorkerService struct {
	consumer    queue.Consumer
	handler     DispatchHandler
	logger      *zap.Logger
	concurrency int
	queueName   string
}

func NewWorkerService(
	consumer queue.Consumer,
	handler DispatchHandler,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("dispatch handler is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		handler:     handler,
		logger:      logger,
		concurrency: concurrency,
		queueName:   queue.DispatchQueue,
	}, nil
}

// Start runs concurrency consumers on the dispatch queue until ctx is cancelled or one fails.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			logger := s.logger.With(zap.Int("workerId", workerID), zap.String("queue", s.queueName))
			logger.Info("dispatch consumer started")

			if err := s.consumer.Consume(groupCtx, s.queueName, s.processMessage); err != nil {
				logger.Error("dispatch consumer stopped with error", zap.Error(err))
				return err
			}

			logger.Info("dispatch consumer stopped")
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	result, err := s.handler.Handle(ctx, msg.Request())
	if err != nil {
		return fmt.Errorf("dispatch %s for broadcast %s failed: %w", msg.Action, msg.BroadcastID, err)
	}

	if result.SkipReason != "" {
		s.logger.Info("dispatch message skipped",
			zap.String("broadcastId", msg.BroadcastID),
			zap.String("action", msg.Action.String()),
			zap.String("reason", result.SkipReason),
		)
	}
	return nil
}
