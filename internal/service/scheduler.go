package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultScanLimit = 100

// Scheduler starts broadcasts whose scheduled time has passed.
type Scheduler struct {
	broadcasts repository.BroadcastRepository
	invoker    Invoker
	logger     *zap.Logger
	metrics    *observability.Metrics
	limit      int
	now        func() time.Time
}

func NewScheduler(
	broadcasts repository.BroadcastRepository,
	invoker Invoker,
	limit int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("dispatch invoker is required")
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		broadcasts: broadcasts,
		invoker:    invoker,
		logger:     logger,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// CheckDue hands every due scheduled broadcast to the dispatch worker with a start action,
// earliest first. A failed hand-off is logged and the broadcast is picked up again on the
// next run since it is still scheduled. It returns the number of broadcasts handed off.
func (s *Scheduler) CheckDue(ctx context.Context) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = observability.EnsureCorrelationID(ctx)
	logger := observability.WithContextLogger(s.logger, ctx)

	due, err := s.broadcasts.GetDueScheduled(ctx, s.now().UTC(), s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due scheduled broadcasts: %w", err)
	}

	started := 0
	for i := range due {
		broadcast := due[i]
		req := domain.DispatchRequest{
			Action:      domain.DispatchActionStart,
			BroadcastID: broadcast.ID,
		}

		if err := s.invoker.Invoke(ctx, req); err != nil {
			logger.Error("failed to start scheduled broadcast",
				zap.String("broadcastId", broadcast.ID),
				zap.Error(err),
			)
			s.metrics.IncInvocationFailed(req.Action.String())
			continue
		}

		started++
		s.metrics.IncBroadcastStarted()
		logger.Info("scheduled broadcast handed to dispatch worker",
			zap.String("broadcastId", broadcast.ID),
			zap.String("name", broadcast.Name),
		)
	}

	if len(due) > 0 {
		logger.Info("scheduled broadcast check finished",
			zap.Int("due", len(due)),
			zap.Int("started", started),
		)
	}

	return started, nil
}
