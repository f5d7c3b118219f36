package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
	"go.uber.org/zap"
)

const maxBroadcastRecipients = 10000

// CreateBroadcastInput describes a new broadcast and its audience.
type CreateBroadcastInput struct {
	UserID      *string
	Name        string
	Message     string
	ScheduledAt *time.Time
	Recipients  []RecipientInput
}

type RecipientInput struct {
	Phone string
	Name  *string
}

// BroadcastProgress is a read-only view of a broadcast and its ledger.
type BroadcastProgress struct {
	Broadcast *domain.Broadcast
	Pending   int64
	Counts    []domain.RecipientStatusCount
}

type BroadcastService struct {
	broadcasts repository.BroadcastRepository
	recipients repository.RecipientRepository
	invoker    Invoker
	logger     *zap.Logger
	now        func() time.Time
}

func NewBroadcastService(
	broadcasts repository.BroadcastRepository,
	recipients repository.RecipientRepository,
	invoker Invoker,
	logger *zap.Logger,
) (*BroadcastService, error) {
	if broadcasts == nil {
		return nil, fmt.Errorf("broadcast repository is required")
	}
	if recipients == nil {
		return nil, fmt.Errorf("recipient repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BroadcastService{
		broadcasts: broadcasts,
		recipients: recipients,
		invoker:    invoker,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Create stores a scheduled broadcast with its recipients in one transaction. Broadcasts due
// now are handed to the dispatch worker right away; if that fails the scheduler trigger
// starts them on its next run.
func (s *BroadcastService) Create(ctx context.Context, input CreateBroadcastInput) (*domain.Broadcast, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	broadcast, recipients, err := prepareBroadcastForCreate(input, now)
	if err != nil {
		return nil, err
	}

	if err := s.broadcasts.CreateWithRecipients(ctx, broadcast, recipients); err != nil {
		return nil, fmt.Errorf("failed to create broadcast: %w", err)
	}

	if s.invoker == nil || broadcast.ScheduledAt.After(now) {
		return broadcast, nil
	}

	req := domain.DispatchRequest{Action: domain.DispatchActionStart, BroadcastID: broadcast.ID}
	if err := s.invoker.Invoke(ctx, req); err != nil {
		s.logger.Warn("immediate broadcast start failed, leaving it to the scheduler",
			zap.String("broadcastId", broadcast.ID),
			zap.Error(err),
		)
	}

	return broadcast, nil
}

func (s *BroadcastService) GetProgress(ctx context.Context, id string) (*BroadcastProgress, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: broadcast id is required", domain.ErrValidation)
	}

	broadcast, err := s.broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.recipients.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients by status: %w", err)
	}

	progress := &BroadcastProgress{Broadcast: broadcast, Counts: counts}
	for _, c := range counts {
		if c.Status == domain.RecipientStatusPending {
			progress.Pending = int64(c.Count)
		}
	}
	return progress, nil
}

func prepareBroadcastForCreate(input CreateBroadcastInput, now time.Time) (*domain.Broadcast, []*domain.Recipient, error) {
	if len(input.Recipients) == 0 {
		return nil, nil, fmt.Errorf("%w: broadcast must include at least one recipient", domain.ErrValidation)
	}
	if len(input.Recipients) > maxBroadcastRecipients {
		return nil, nil, fmt.Errorf("%w: broadcast exceeds %d recipients", domain.ErrValidation, maxBroadcastRecipients)
	}

	scheduledAt := now
	if input.ScheduledAt != nil {
		scheduledAt = input.ScheduledAt.UTC()
	}

	broadcast := &domain.Broadcast{
		ID:          uuid.NewString(),
		UserID:      normalizeOptionalString(input.UserID),
		Name:        strings.TrimSpace(input.Name),
		Message:     strings.TrimSpace(input.Message),
		Status:      domain.BroadcastStatusScheduled,
		ScheduledAt: &scheduledAt,
	}

	seen := make(map[string]struct{}, len(input.Recipients))
	recipients := make([]*domain.Recipient, 0, len(input.Recipients))
	for i, in := range input.Recipients {
		recipient := &domain.Recipient{
			BroadcastID: broadcast.ID,
			Phone:       domain.NormalizePhone(in.Phone),
			Name:        normalizeOptionalString(in.Name),
			Status:      domain.RecipientStatusPending,
		}
		if err := recipient.Validate(); err != nil {
			return nil, nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		if _, dup := seen[recipient.Phone]; dup {
			continue
		}
		seen[recipient.Phone] = struct{}{}
		recipients = append(recipients, recipient)
	}

	broadcast.TotalRecipients = len(recipients)
	if err := broadcast.Validate(); err != nil {
		return nil, nil, err
	}

	return broadcast, recipients, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
