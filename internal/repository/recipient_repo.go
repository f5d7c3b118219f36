package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recipientInsertBatchSize = 100

// RecipientOutcome is the final delivery result written for a pending recipient.
type RecipientOutcome struct {
	Status            domain.RecipientStatus
	ProviderMessageID *string
	ErrorMessage      *string
	At                time.Time
}

type RecipientRepository interface {
	CreateBatch(ctx context.Context, recipients []*domain.Recipient) error
	CountPending(ctx context.Context, broadcastID string) (int64, error)
	ClaimNextPending(ctx context.Context, broadcastID string, now time.Time, staleBefore time.Time) (*domain.Recipient, error)
	RecordOutcome(ctx context.Context, broadcastID string, recipientID string, outcome RecipientOutcome) (bool, error)
	CountByStatus(ctx context.Context, broadcastID string) ([]domain.RecipientStatusCount, error)
}

type GormRecipientRepo struct {
	db *gorm.DB
}

func NewGormRecipientRepo(db *gorm.DB) *GormRecipientRepo {
	return &GormRecipientRepo{db: db}
}

func (r *GormRecipientRepo) CreateBatch(ctx context.Context, recipients []*domain.Recipient) error {
	models := make([]RecipientModel, 0, len(recipients))
	modelIndexes := make([]int, 0, len(recipients))
	for i, recipient := range recipients {
		model := recipientModelFromDomain(recipient)
		if model == nil {
			continue
		}
		if model.ID == "" {
			model.ID = uuid.NewString()
		}
		if model.Status == "" {
			model.Status = domain.RecipientStatusPending
		}
		models = append(models, *model)
		modelIndexes = append(modelIndexes, i)
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, recipientInsertBatchSize).Error; err != nil {
		return err
	}

	for i := range models {
		*recipients[modelIndexes[i]] = *recipientModelToDomain(&models[i])
	}

	return nil
}

func (r *GormRecipientRepo) CountPending(ctx context.Context, broadcastID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Where("broadcast_id = ? AND status = ?", broadcastID, domain.RecipientStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ClaimNextPending stamps claimed_at on the oldest pending recipient that is unclaimed or
// whose claim is older than staleBefore, and returns it. Rows locked by a concurrent claim
// are skipped, so overlapping batches never hand out the same recipient. It returns nil
// when nothing is claimable.
func (r *GormRecipientRepo) ClaimNextPending(
	ctx context.Context,
	broadcastID string,
	now time.Time,
	staleBefore time.Time,
) (*domain.Recipient, error) {
	next := r.db.
		Model(&RecipientModel{}).
		Select("id").
		Where("broadcast_id = ? AND status = ? AND (claimed_at IS NULL OR claimed_at < ?)",
			broadcastID, domain.RecipientStatusPending, staleBefore).
		Order("created_at ASC, id ASC").
		Limit(1).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

	var claimed []RecipientModel
	err := r.db.WithContext(ctx).
		Model(&claimed).
		Clauses(clause.Returning{}).
		Where("id = (?)", next).
		Update("claimed_at", now).Error
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	return recipientModelToDomain(&claimed[0]), nil
}

// RecordOutcome moves a pending recipient to its final status and bumps the matching
// broadcast counter in the same transaction. It reports false when the recipient was
// no longer pending, in which case no counter changes.
func (r *GormRecipientRepo) RecordOutcome(
	ctx context.Context,
	broadcastID string,
	recipientID string,
	outcome RecipientOutcome,
) (bool, error) {
	if !domain.RecipientStatusPending.CanTransitionTo(outcome.Status) {
		return false, fmt.Errorf("%w: recipient cannot move to %q", domain.ErrValidation, outcome.Status)
	}

	counterColumn := "sent_count"
	updates := map[string]any{
		"status":              outcome.Status,
		"provider_message_id": outcome.ProviderMessageID,
		"error_message":       outcome.ErrorMessage,
	}
	if outcome.Status == domain.RecipientStatusSent {
		updates["sent_at"] = outcome.At
	} else {
		counterColumn = "failed_count"
	}

	recorded := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&RecipientModel{}).
			Where("id = ? AND broadcast_id = ? AND status = ?", recipientID, broadcastID, domain.RecipientStatusPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		// The bound keeps sent_count + failed_count <= total_recipients even for recipients
		// inserted after the broadcast started.
		if err := tx.
			Model(&BroadcastModel{}).
			Where("id = ? AND sent_count + failed_count < total_recipients", broadcastID).
			Update(counterColumn, gorm.Expr(counterColumn+" + 1")).Error; err != nil {
			return err
		}

		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

func (r *GormRecipientRepo) CountByStatus(ctx context.Context, broadcastID string) ([]domain.RecipientStatusCount, error) {
	var rows []struct {
		Status domain.RecipientStatus `gorm:"column:status"`
		Count  int                    `gorm:"column:count"`
	}
	err := r.db.WithContext(ctx).
		Model(&RecipientModel{}).
		Select("status, COUNT(*) as count").
		Where("broadcast_id = ?", broadcastID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make([]domain.RecipientStatusCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, domain.RecipientStatusCount{Status: row.Status, Count: row.Count})
	}
	return counts, nil
}
