package repository

import (
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

const (
	broadcastsTable = "whatsapp_broadcasts"
	recipientsTable = "whatsapp_broadcast_recipients"
	featuresTable   = "feature_flags"
)

// BroadcastModel is the persistence model for the whatsapp_broadcasts table.
type BroadcastModel struct {
	ID               string                 `gorm:"type:uuid;primaryKey"`
	UserID           *string                `gorm:"type:uuid"`
	Name             string                 `gorm:"type:varchar(255);not null"`
	Message          string                 `gorm:"type:text;not null"`
	Status           domain.BroadcastStatus `gorm:"type:varchar(20);not null"`
	ScheduledAt      *time.Time             `gorm:"type:timestamptz"`
	TotalRecipients  int                    `gorm:"not null;default:0"`
	SentCount        int                    `gorm:"not null;default:0"`
	FailedCount      int                    `gorm:"not null;default:0"`
	LastProcessingAt *time.Time             `gorm:"type:timestamptz"`
	StartedAt        *time.Time             `gorm:"type:timestamptz"`
	CompletedAt      *time.Time             `gorm:"type:timestamptz"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (BroadcastModel) TableName() string {
	return broadcastsTable
}

// RecipientModel is the persistence model for whatsapp_broadcast_recipients.
type RecipientModel struct {
	ID                string                 `gorm:"type:uuid;primaryKey"`
	BroadcastID       string                 `gorm:"type:uuid;not null"`
	Phone             string                 `gorm:"type:varchar(20);not null"`
	Name              *string                `gorm:"type:varchar(255)"`
	Status            domain.RecipientStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage      *string                `gorm:"type:text"`
	ProviderMessageID *string                `gorm:"type:varchar(255)"`
	SentAt            *time.Time             `gorm:"type:timestamptz"`
	ClaimedAt         *time.Time             `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (RecipientModel) TableName() string {
	return recipientsTable
}

// FeatureFlagModel is the persistence model for feature_flags.
type FeatureFlagModel struct {
	Key       string `gorm:"type:varchar(100);primaryKey"`
	Enabled   bool   `gorm:"not null;default:false"`
	UpdatedAt time.Time
}

func (FeatureFlagModel) TableName() string {
	return featuresTable
}

func broadcastModelFromDomain(b *domain.Broadcast) *BroadcastModel {
	if b == nil {
		return nil
	}

	return &BroadcastModel{
		ID:               b.ID,
		UserID:           b.UserID,
		Name:             b.Name,
		Message:          b.Message,
		Status:           b.Status,
		ScheduledAt:      b.ScheduledAt,
		TotalRecipients:  b.TotalRecipients,
		SentCount:        b.SentCount,
		FailedCount:      b.FailedCount,
		LastProcessingAt: b.LastProcessingAt,
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func broadcastModelToDomain(m *BroadcastModel) *domain.Broadcast {
	if m == nil {
		return nil
	}

	return &domain.Broadcast{
		ID:               m.ID,
		UserID:           m.UserID,
		Name:             m.Name,
		Message:          m.Message,
		Status:           m.Status,
		ScheduledAt:      m.ScheduledAt,
		TotalRecipients:  m.TotalRecipients,
		SentCount:        m.SentCount,
		FailedCount:      m.FailedCount,
		LastProcessingAt: m.LastProcessingAt,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func recipientModelFromDomain(r *domain.Recipient) *RecipientModel {
	if r == nil {
		return nil
	}

	return &RecipientModel{
		ID:                r.ID,
		BroadcastID:       r.BroadcastID,
		Phone:             r.Phone,
		Name:              r.Name,
		Status:            r.Status,
		ErrorMessage:      r.ErrorMessage,
		ProviderMessageID: r.ProviderMessageID,
		SentAt:            r.SentAt,
		ClaimedAt:         r.ClaimedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func recipientModelToDomain(m *RecipientModel) *domain.Recipient {
	if m == nil {
		return nil
	}

	return &domain.Recipient{
		ID:                m.ID,
		BroadcastID:       m.BroadcastID,
		Phone:             m.Phone,
		Name:              m.Name,
		Status:            m.Status,
		ErrorMessage:      m.ErrorMessage,
		ProviderMessageID: m.ProviderMessageID,
		SentAt:            m.SentAt,
		ClaimedAt:         m.ClaimedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func broadcastModelsToDomain(models []BroadcastModel) []domain.Broadcast {
	broadcasts := make([]domain.Broadcast, 0, len(models))
	for i := range models {
		broadcasts = append(broadcasts, *broadcastModelToDomain(&models[i]))
	}
	return broadcasts
}
