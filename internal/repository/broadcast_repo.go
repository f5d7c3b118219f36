package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/gorm"
)

type BroadcastRepository interface {
	Create(ctx context.Context, b *domain.Broadcast) error
	CreateWithRecipients(ctx context.Context, b *domain.Broadcast, recipients []*domain.Recipient) error
	GetByID(ctx context.Context, id string) (*domain.Broadcast, error)
	GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Broadcast, error)
	GetStalledRunning(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Broadcast, error)
	ClaimLease(ctx context.Context, id string, staleBefore time.Time, now time.Time) (bool, error)
	Heartbeat(ctx context.Context, id string, now time.Time) error
	ReleaseLease(ctx context.Context, id string, heldAt time.Time) error
	MarkRunning(ctx context.Context, id string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error)
}

type GormBroadcastRepo struct {
	db *gorm.DB
}

func NewGormBroadcastRepo(db *gorm.DB) *GormBroadcastRepo {
	return &GormBroadcastRepo{db: db}
}

func (r *GormBroadcastRepo) Create(ctx context.Context, b *domain.Broadcast) error {
	model := broadcastModelFromDomain(b)
	if model == nil {
		return nil
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*b = *broadcastModelToDomain(model)
	return nil
}

// CreateWithRecipients inserts the broadcast and its recipient ledger atomically.
func (r *GormBroadcastRepo) CreateWithRecipients(
	ctx context.Context,
	b *domain.Broadcast,
	recipients []*domain.Recipient,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewGormBroadcastRepo(tx).Create(ctx, b); err != nil {
			return err
		}
		for _, recipient := range recipients {
			if recipient != nil {
				recipient.BroadcastID = b.ID
			}
		}
		return NewGormRecipientRepo(tx).CreateBatch(ctx, recipients)
	})
}

func (r *GormBroadcastRepo) GetByID(ctx context.Context, id string) (*domain.Broadcast, error) {
	var model BroadcastModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return broadcastModelToDomain(&model), nil
}

// GetDueScheduled returns scheduled broadcasts whose scheduled_at has passed, earliest first.
func (r *GormBroadcastRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Broadcast, error) {
	var models []BroadcastModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.BroadcastStatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return broadcastModelsToDomain(models), nil
}

// GetStalledRunning returns running broadcasts with no lease or a lease older than staleBefore.
func (r *GormBroadcastRepo) GetStalledRunning(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Broadcast, error) {
	var models []BroadcastModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.BroadcastStatusRunning).
		Where("last_processing_at IS NULL OR last_processing_at < ?", staleBefore).
		Order("last_processing_at ASC NULLS FIRST").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return broadcastModelsToDomain(models), nil
}

// ClaimLease sets last_processing_at to now only if the broadcast is still running and its
// lease is still absent or stale. Exactly one of several concurrent callers gets true.
func (r *GormBroadcastRepo) ClaimLease(ctx context.Context, id string, staleBefore time.Time, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND status = ?", id, domain.BroadcastStatusRunning).
		Where("last_processing_at IS NULL OR last_processing_at < ?", staleBefore).
		Update("last_processing_at", now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormBroadcastRepo) Heartbeat(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND status = ?", id, domain.BroadcastStatusRunning).
		Update("last_processing_at", now).Error
}

// ReleaseLease clears the lease so the next continuation pass picks the broadcast up at once.
// heldAt is the last heartbeat written by the caller; a lease refreshed or reclaimed since then
// belongs to someone else and is left alone.
func (r *GormBroadcastRepo) ReleaseLease(ctx context.Context, id string, heldAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND status = ? AND last_processing_at = ?", id, domain.BroadcastStatusRunning, heldAt).
		Update("last_processing_at", nil).Error
}

// MarkRunning moves a scheduled broadcast to running and snapshots its recipient count.
func (r *GormBroadcastRepo) MarkRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	totalRecipients := r.db.
		Model(&RecipientModel{}).
		Select("COUNT(*)").
		Where("broadcast_id = ?", id)

	result := r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND status = ?", id, domain.BroadcastStatusScheduled).
		Updates(map[string]any{
			"status":             domain.BroadcastStatusRunning,
			"total_recipients":   gorm.Expr("(?)", totalRecipients),
			"started_at":         now,
			"last_processing_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkCompleted completes a running broadcast only when none of its recipients is pending.
func (r *GormBroadcastRepo) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	pending := r.db.
		Model(&RecipientModel{}).
		Select("1").
		Where("broadcast_id = ? AND status = ?", id, domain.RecipientStatusPending)

	result := r.db.WithContext(ctx).
		Model(&BroadcastModel{}).
		Where("id = ? AND status = ?", id, domain.BroadcastStatusRunning).
		Where("NOT EXISTS (?)", pending).
		Updates(map[string]any{
			"status":       domain.BroadcastStatusCompleted,
			"completed_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
