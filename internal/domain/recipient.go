package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// RecipientStatus represents the delivery state of one broadcast recipient.
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
)

func (s RecipientStatus) String() string { return string(s) }

func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientStatusPending, RecipientStatusSent, RecipientStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a recipient may move from s to next.
// Only pending recipients change state and they never go back to pending.
func (s RecipientStatus) CanTransitionTo(next RecipientStatus) bool {
	return s == RecipientStatusPending && (next == RecipientStatusSent || next == RecipientStatusFailed)
}

func ParseRecipientStatusFromString(s string) (RecipientStatus, error) {
	st := RecipientStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid recipient status %q", ErrValidation, s)
	}
	return st, nil
}

// Phone number bounds in digits (E.164 allows up to 15).
const (
	MinPhoneDigits = 10
	MaxPhoneDigits = 15
)

// Recipient is one addressable target of a broadcast.
type Recipient struct {
	ID                string
	BroadcastID       string
	Phone             string
	Name              *string
	Status            RecipientStatus
	ErrorMessage      *string
	ProviderMessageID *string
	SentAt            *time.Time
	ClaimedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NormalizePhone strips formatting characters and returns the digits only.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (r *Recipient) Validate() error {
	if strings.TrimSpace(r.BroadcastID) == "" {
		return fmt.Errorf("%w: broadcast_id is required", ErrValidation)
	}
	digits := NormalizePhone(r.Phone)
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return fmt.Errorf("%w: phone must have between %d and %d digits (got %d)",
			ErrValidation, MinPhoneDigits, MaxPhoneDigits, len(digits))
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	return nil
}

// RecipientStatusCount is the number of recipients of a broadcast in one status.
type RecipientStatusCount struct {
	Status RecipientStatus
	Count  int
}
