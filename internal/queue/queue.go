package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed dispatch message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DispatchQueue carries dispatch worker invocations.
	DispatchQueue = "broadcast.dispatch"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the dispatch queue.
	queueMaxPriority int32 = 2
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.broadcast.dispatch.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns every work queue the topology declares.
func WorkQueueNames() []string {
	return []string{DispatchQueue}
}

// PriorityValue maps a dispatch action to RabbitMQ message priority. Starts jump ahead of
// resumes so newly due broadcasts are not queued behind long-running ones.
func PriorityValue(action domain.DispatchAction) uint8 {
	switch action {
	case domain.DispatchActionStart:
		return 2
	case domain.DispatchActionResume:
		return 1
	default:
		return 0
	}
}
