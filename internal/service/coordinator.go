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

// ResumeResult summarizes one continuation pass.
type ResumeResult struct {
	Candidates int
	// Resumed counts dispatch worker invocations accepted in this pass.
	Resumed   int
	Completed int
	// Skipped counts candidates another caller claimed or completed first.
	Skipped int
	Failed  int
}

// ContinuationCoordinator re-arms running broadcasts whose dispatch worker stopped before
// draining the pending recipients.
type ContinuationCoordinator struct {
	broadcasts repository.BroadcastRepository
	recipients repository.RecipientRepository
	invoker    Invoker
	logger     *zap.Logger
	metrics    *observability.Metrics
	leaseTTL   time.Duration
	limit      int
	now        func() time.Time
}

func NewContinuationCoordinator(
	broadcasts repository.BroadcastRepository,
	recipients repository.RecipientRepository,
	invoker Invoker,
	leaseTTL time.Duration,
	limit int,
	logger *zap.Logger,
) (*ContinuationCoordinator, error) {
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("dispatch invoker is required")
	}
	if leaseTTL <= 0 {
		leaseTTL = domain.DefaultLeaseTTL
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ContinuationCoordinator{
		broadcasts: broadcasts,
		recipients: recipients,
		invoker:    invoker,
		logger:     logger,
		leaseTTL:   leaseTTL,
		limit:      limit,
		now:        time.Now,
	}, nil
}

func (c *ContinuationCoordinator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// ResumeStalled processes every running broadcast without a fresh lease. Broadcasts with no
// pending recipients are completed without a worker call; the rest are claimed and resumed.
// Only the candidate query failing aborts the pass.
func (c *ContinuationCoordinator) ResumeStalled(ctx context.Context) (ResumeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, _ = observability.EnsureCorrelationID(ctx)
	logger := observability.WithContextLogger(c.logger, ctx)

	now := c.now().UTC()
	staleBefore := now.Add(-c.leaseTTL)

	candidates, err := c.broadcasts.GetStalledRunning(ctx, staleBefore, c.limit)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("failed to fetch stalled broadcasts: %w", err)
	}

	result := ResumeResult{Candidates: len(candidates)}
	for i := range candidates {
		broadcast := candidates[i]
		c.resumeOne(ctx, logger.With(zap.String("broadcastId", broadcast.ID)), broadcast.ID, now, staleBefore, &result)
	}

	if result.Candidates > 0 {
		logger.Info("stalled broadcast pass finished",
			zap.Int("candidates", result.Candidates),
			zap.Int("resumed", result.Resumed),
			zap.Int("completed", result.Completed),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}

	return result, nil
}

func (c *ContinuationCoordinator) resumeOne(
	ctx context.Context,
	logger *zap.Logger,
	broadcastID string,
	now time.Time,
	staleBefore time.Time,
	result *ResumeResult,
) {
	pending, err := c.recipients.CountPending(ctx, broadcastID)
	if err != nil {
		logger.Error("failed to count pending recipients", zap.Error(err))
		result.Failed++
		return
	}

	if pending == 0 {
		completed, err := c.broadcasts.MarkCompleted(ctx, broadcastID, now)
		if err != nil {
			logger.Error("failed to complete drained broadcast", zap.Error(err))
			result.Failed++
			return
		}
		if !completed {
			result.Skipped++
			return
		}
		result.Completed++
		c.metrics.IncBroadcastCompleted(observability.CompletionSourceCoordinator)
		logger.Info("drained broadcast marked completed")
		return
	}

	claimed, err := c.broadcasts.ClaimLease(ctx, broadcastID, staleBefore, now)
	if err != nil {
		logger.Error("failed to claim broadcast lease", zap.Error(err))
		result.Failed++
		return
	}
	if !claimed {
		c.metrics.IncLeaseClaimLost()
		logger.Info("broadcast lease claimed by another run, skipping")
		result.Skipped++
		return
	}

	req := domain.DispatchRequest{Action: domain.DispatchActionResume, BroadcastID: broadcastID}
	if err := c.invoker.Invoke(ctx, req); err != nil {
		// The fresh lease holds the broadcast until it expires, which spaces out retries.
		logger.Error("failed to resume stalled broadcast",
			zap.Int64("pending", pending),
			zap.Error(err),
		)
		c.metrics.IncInvocationFailed(req.Action.String())
		result.Failed++
		return
	}

	result.Resumed++
	c.metrics.IncBroadcastResumed()
	logger.Info("stalled broadcast resumed", zap.Int64("pending", pending))
}
