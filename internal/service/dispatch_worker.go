package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/featureflag"
	"github.com/kursadbilgin/broadcast-engine/internal/observability"
	"github.com/kursadbilgin/broadcast-engine/internal/provider"
	"github.com/kursadbilgin/broadcast-engine/internal/ratelimit"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultDispatchBatchSize = 50

// Reasons reported when a dispatch request sends nothing.
const (
	SkipReasonNotScheduled    = "not_scheduled"
	SkipReasonNotRunning      = "not_running"
	SkipReasonFeatureDisabled = "feature_disabled"
)

// DispatchResult reports what one dispatch batch did.
type DispatchResult struct {
	BroadcastID string
	Action      domain.DispatchAction
	Processed   int
	Sent        int
	Failed      int
	// Deferred counts recipients left pending after a transient provider error.
	Deferred   int
	Remaining  int64
	Completed  bool
	SkipReason string
}

// DispatchWorker sends one bounded batch of a broadcast and records each outcome.
type DispatchWorker struct {
	broadcasts  repository.BroadcastRepository
	recipients  repository.RecipientRepository
	sender      provider.Sender
	rateLimiter ratelimit.RateLimiter
	flags       FlagChecker
	logger      *zap.Logger
	metrics     *observability.Metrics
	batchSize   int
	leaseTTL    time.Duration
	now         func() time.Time
}

func NewDispatchWorker(
	broadcasts repository.BroadcastRepository,
	recipients repository.RecipientRepository,
	sender provider.Sender,
	rateLimiter ratelimit.RateLimiter,
	flags FlagChecker,
	batchSize int,
	leaseTTL time.Duration,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("provider sender is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	if leaseTTL <= 0 {
		leaseTTL = domain.DefaultLeaseTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		broadcasts:  broadcasts,
		recipients:  recipients,
		sender:      sender,
		rateLimiter: rateLimiter,
		flags:       flags,
		logger:      logger,
		batchSize:   batchSize,
		leaseTTL:    leaseTTL,
		now:         time.Now,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Handle runs one batch for req. A start moves a scheduled broadcast to running first; both
// actions then send to at most batchSize pending recipients. When the ledger drains the
// broadcast is completed, otherwise the lease is released for the next continuation pass.
func (w *DispatchWorker) Handle(ctx context.Context, req domain.DispatchRequest) (DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		return DispatchResult{}, err
	}
	if req.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, req.CorrelationID)
	}

	logger := observability.WithContextLogger(w.logger, ctx).With(
		zap.String("broadcastId", req.BroadcastID),
		zap.String("action", req.Action.String()),
	)
	result := DispatchResult{BroadcastID: req.BroadcastID, Action: req.Action}

	broadcast, err := w.broadcasts.GetByID(ctx, req.BroadcastID)
	if err != nil {
		return result, fmt.Errorf("failed to load broadcast: %w", err)
	}

	if req.Action == domain.DispatchActionStart {
		if broadcast.Status != domain.BroadcastStatusScheduled {
			// Whoever moved it out of scheduled owns the first batch.
			logger.Info("start skipped, broadcast is not scheduled", zap.String("status", broadcast.Status.String()))
			result.SkipReason = SkipReasonNotScheduled
			return result, nil
		}

		started, err := w.broadcasts.MarkRunning(ctx, broadcast.ID, w.now().UTC())
		if err != nil {
			return result, fmt.Errorf("failed to mark broadcast running: %w", err)
		}
		if !started {
			logger.Info("start skipped, broadcast was started concurrently")
			result.SkipReason = SkipReasonNotScheduled
			return result, nil
		}

		if broadcast, err = w.broadcasts.GetByID(ctx, broadcast.ID); err != nil {
			return result, fmt.Errorf("failed to reload started broadcast: %w", err)
		}
		logger.Info("broadcast started", zap.Int("totalRecipients", broadcast.TotalRecipients))
	}

	if broadcast.Status != domain.BroadcastStatusRunning {
		logger.Info("dispatch skipped, broadcast is not running", zap.String("status", broadcast.Status.String()))
		result.SkipReason = SkipReasonNotRunning
		return result, nil
	}

	if w.flags != nil {
		enabled, err := w.flags.Enabled(ctx, featureflag.WhatsAppBroadcasts)
		if err != nil {
			return result, fmt.Errorf("failed to read feature flag: %w", err)
		}
		if !enabled {
			// The lease is kept so the broadcast is retried once it goes stale.
			logger.Warn("dispatch skipped, whatsapp broadcasts are disabled")
			result.SkipReason = SkipReasonFeatureDisabled
			return result, nil
		}
	}

	w.metrics.IncDispatchInFlight()
	defer w.metrics.DecDispatchInFlight()

	heldAt, err := w.sendBatch(ctx, logger, broadcast, &result)
	if err != nil {
		return result, err
	}

	return w.finish(ctx, logger, broadcast.ID, heldAt, result)
}

// leaseNow is the heartbeat timestamp at the precision Postgres stores, so a later
// ReleaseLease can match it exactly.
func (w *DispatchWorker) leaseNow() time.Time {
	return w.now().UTC().Truncate(time.Microsecond)
}

// sendBatch claims and sends one recipient at a time so overlapping batches for the same
// broadcast never send to the same recipient. It returns the last heartbeat it wrote.
func (w *DispatchWorker) sendBatch(
	ctx context.Context,
	logger *zap.Logger,
	broadcast *domain.Broadcast,
	result *DispatchResult,
) (time.Time, error) {
	heldAt := w.leaseNow()
	if err := w.broadcasts.Heartbeat(ctx, broadcast.ID, heldAt); err != nil {
		return heldAt, fmt.Errorf("failed to refresh broadcast lease: %w", err)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	for i := 0; i < w.batchSize; i++ {
		if ctx.Err() != nil {
			logger.Warn("dispatch batch interrupted", zap.Error(ctx.Err()))
			break
		}

		if err := w.rateLimiter.Wait(ctx, ratelimit.KeyWhatsApp); err != nil {
			logger.Warn("rate limiter wait failed, ending batch early", zap.Error(err))
			break
		}

		now := w.now().UTC()
		recipient, err := w.recipients.ClaimNextPending(ctx, broadcast.ID, now, now.Add(-w.leaseTTL))
		if err != nil {
			return heldAt, fmt.Errorf("failed to claim pending recipient: %w", err)
		}
		if recipient == nil {
			break
		}

		w.sendOne(ctx, logger, broadcast, *recipient, correlationID, result)

		// Keep the lease fresh while a long batch is still sending.
		if w.now().Sub(heldAt) >= w.leaseTTL/3 {
			beat := w.leaseNow()
			if err := w.broadcasts.Heartbeat(ctx, broadcast.ID, beat); err != nil {
				logger.Warn("failed to refresh broadcast lease", zap.Error(err))
			} else {
				heldAt = beat
			}
		}
	}

	return heldAt, nil
}

func (w *DispatchWorker) sendOne(
	ctx context.Context,
	logger *zap.Logger,
	broadcast *domain.Broadcast,
	recipient domain.Recipient,
	correlationID string,
	result *DispatchResult,
) {
	recipientLogger := logger.With(zap.String("recipientId", recipient.ID))

	sendStart := w.now()
	response, sendErr := w.sender.Send(ctx, provider.OutboundMessage{
		To:            domain.NormalizePhone(recipient.Phone),
		Body:          broadcast.RenderFor(recipient),
		CorrelationID: correlationID,
	})
	w.metrics.ObserveRecipientSendDuration(w.now().Sub(sendStart))

	outcome := repository.RecipientOutcome{At: w.now().UTC()}
	switch {
	case sendErr == nil:
		outcome.Status = domain.RecipientStatusSent
		if response != nil && strings.TrimSpace(response.MessageID) != "" {
			messageID := response.MessageID
			outcome.ProviderMessageID = &messageID
		}
	case provider.IsTransient(sendErr) || errors.Is(sendErr, context.Canceled):
		// The claim is kept, so the recipient is retried once it goes stale.
		recipientLogger.Warn("transient send failure, recipient stays pending", zap.Error(sendErr))
		result.Deferred++
		return
	default:
		reason := provider.FailureReason(sendErr)
		outcome.Status = domain.RecipientStatusFailed
		outcome.ErrorMessage = &reason
		recipientLogger.Warn("permanent send failure", zap.Error(sendErr))
	}

	recorded, err := w.recipients.RecordOutcome(ctx, broadcast.ID, recipient.ID, outcome)
	if err != nil {
		recipientLogger.Error("failed to record recipient outcome",
			zap.String("status", outcome.Status.String()),
			zap.Error(err),
		)
		return
	}
	if !recorded {
		// A concurrent batch already settled this recipient.
		recipientLogger.Info("recipient no longer pending, outcome discarded")
		return
	}

	result.Processed++
	if outcome.Status == domain.RecipientStatusSent {
		result.Sent++
	} else {
		result.Failed++
	}
	w.metrics.IncRecipientProcessed(outcome.Status.String())
}

func (w *DispatchWorker) finish(
	ctx context.Context,
	logger *zap.Logger,
	broadcastID string,
	heldAt time.Time,
	result DispatchResult,
) (DispatchResult, error) {
	remaining, err := w.recipients.CountPending(ctx, broadcastID)
	if err != nil {
		return result, fmt.Errorf("failed to count pending recipients: %w", err)
	}
	result.Remaining = remaining

	if remaining == 0 {
		completed, err := w.broadcasts.MarkCompleted(ctx, broadcastID, w.now().UTC())
		if err != nil {
			return result, fmt.Errorf("failed to complete broadcast: %w", err)
		}
		result.Completed = completed
		if completed {
			w.metrics.IncBroadcastCompleted(observability.CompletionSourceWorker)
		}
	} else if err := w.broadcasts.ReleaseLease(ctx, broadcastID, heldAt); err != nil {
		logger.Warn("failed to release broadcast lease", zap.Error(err))
	}

	logger.Info("dispatch batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("deferred", result.Deferred),
		zap.Int64("remaining", result.Remaining),
		zap.Bool("completed", result.Completed),
	)

	return result, nil
}
