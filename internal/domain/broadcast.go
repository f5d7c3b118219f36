package domain

import (
	"fmt"
	"strings"
	"time"
)

// BroadcastStatus represents the lifecycle state of a broadcast.
type BroadcastStatus string

const (
	BroadcastStatusScheduled BroadcastStatus = "scheduled"
	BroadcastStatusRunning   BroadcastStatus = "running"
	BroadcastStatusCompleted BroadcastStatus = "completed"
	BroadcastStatusFailed    BroadcastStatus = "failed"
)

func (s BroadcastStatus) String() string { return string(s) }

func (s BroadcastStatus) IsValid() bool {
	switch s {
	case BroadcastStatusScheduled, BroadcastStatusRunning, BroadcastStatusCompleted, BroadcastStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further dispatch can happen for the status.
func (s BroadcastStatus) IsTerminal() bool {
	return s == BroadcastStatusCompleted || s == BroadcastStatusFailed
}

func ParseBroadcastStatusFromString(s string) (BroadcastStatus, error) {
	st := BroadcastStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid broadcast status %q", ErrValidation, s)
	}
	return st, nil
}

// DefaultLeaseTTL is how long last_processing_at keeps a running broadcast claimed.
const DefaultLeaseTTL = 90 * time.Second

// Broadcast is a bulk-messaging job targeting a set of recipients.
type Broadcast struct {
	ID               string
	UserID           *string
	Name             string
	Message          string
	Status           BroadcastStatus
	ScheduledAt      *time.Time
	TotalRecipients  int
	SentCount        int
	FailedCount      int
	LastProcessingAt *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Processed returns the number of recipients with a final delivery outcome.
func (b *Broadcast) Processed() int {
	return b.SentCount + b.FailedCount
}

// LeaseExpired reports whether the lease marker is absent or older than ttl at now.
func (b *Broadcast) LeaseExpired(now time.Time, ttl time.Duration) bool {
	if b.LastProcessingAt == nil {
		return true
	}
	return b.LastProcessingAt.Before(now.Add(-ttl))
}

func (b *Broadcast) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(b.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, b.Status)
	}
	if b.Status == BroadcastStatusScheduled && b.ScheduledAt == nil {
		return fmt.Errorf("%w: scheduled_at is required for scheduled broadcasts", ErrValidation)
	}
	if b.TotalRecipients < 0 || b.SentCount < 0 || b.FailedCount < 0 {
		return fmt.Errorf("%w: counters must be non-negative", ErrValidation)
	}
	if b.Processed() > b.TotalRecipients {
		return fmt.Errorf("%w: sent_count + failed_count exceeds total_recipients (%d > %d)",
			ErrValidation, b.Processed(), b.TotalRecipients)
	}
	return nil
}

// Placeholders replaced with the recipient's name when a message is rendered.
var namePlaceholders = []string{"{{name}}", "{{nome}}"}

// RenderFor returns the message text addressed to r. Recipients without a name get the
// placeholder removed.
func (b *Broadcast) RenderFor(r Recipient) string {
	name := ""
	if r.Name != nil {
		name = strings.TrimSpace(*r.Name)
	}

	text := b.Message
	for _, placeholder := range namePlaceholders {
		text = strings.ReplaceAll(text, placeholder, name)
	}
	return strings.TrimSpace(text)
}
