package invoker

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
)

// QueueInvoker hands dispatch requests to the worker process through RabbitMQ.
type QueueInvoker struct {
	publisher queue.Publisher
	queueName string
}

func NewQueueInvoker(publisher queue.Publisher) (*QueueInvoker, error) {
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	return &QueueInvoker{publisher: publisher, queueName: queue.DispatchQueue}, nil
}

func (i *QueueInvoker) Invoke(ctx context.Context, req domain.DispatchRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ctx, correlationID := observability.EnsureCorrelationID(ctx)
	if req.CorrelationID == "" {
		req.CorrelationID = correlationID
	}

	if err := i.publisher.Publish(ctx, i.queueName, queue.NewDispatchMessage(req)); err != nil {
		return fmt.Errorf("failed to enqueue dispatch request: %w", err)
	}
	return nil
}
