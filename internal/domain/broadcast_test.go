package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseBroadcastStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    BroadcastStatus
		wantErr bool
	}{
		{name: "valid lowercase", input: "running", want: BroadcastStatusRunning},
		{name: "valid uppercase with spaces", input: " SCHEDULED ", want: BroadcastStatusScheduled},
		{name: "invalid", input: "paused", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseBroadcastStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseBroadcastStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseBroadcastStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseBroadcastStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBroadcastStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if BroadcastStatusRunning.IsTerminal() || BroadcastStatusScheduled.IsTerminal() {
		t.Fatal("scheduled/running must not be terminal")
	}
	if !BroadcastStatusCompleted.IsTerminal() || !BroadcastStatusFailed.IsTerminal() {
		t.Fatal("completed/failed must be terminal")
	}
}

func TestBroadcastLeaseExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-10 * time.Second)
	stale := now.Add(-91 * time.Second)

	tests := []struct {
		name  string
		lease *time.Time
		want  bool
	}{
		{name: "null lease", lease: nil, want: true},
		{name: "fresh lease", lease: &fresh, want: false},
		{name: "stale lease", lease: &stale, want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := Broadcast{LastProcessingAt: tt.lease}
			if got := b.LeaseExpired(now, DefaultLeaseTTL); got != tt.want {
				t.Fatalf("LeaseExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBroadcastValidate(t *testing.T) {
	t.Parallel()

	scheduledAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base := Broadcast{
		Name:            "black friday",
		Message:         "Pix com 10% de desconto hoje",
		Status:          BroadcastStatusRunning,
		TotalRecipients: 100,
		SentCount:       40,
		FailedCount:     5,
	}

	tests := []struct {
		name    string
		mutate  func(*Broadcast)
		wantErr bool
	}{
		{
			name:   "valid broadcast",
			mutate: func(b *Broadcast) {},
		},
		{
			name:    "missing name",
			mutate:  func(b *Broadcast) { b.Name = " " },
			wantErr: true,
		},
		{
			name:    "missing message",
			mutate:  func(b *Broadcast) { b.Message = "" },
			wantErr: true,
		},
		{
			name:    "invalid status",
			mutate:  func(b *Broadcast) { b.Status = BroadcastStatus("paused") },
			wantErr: true,
		},
		{
			name:    "scheduled without scheduled_at",
			mutate:  func(b *Broadcast) { b.Status = BroadcastStatusScheduled },
			wantErr: true,
		},
		{
			name: "scheduled with scheduled_at",
			mutate: func(b *Broadcast) {
				b.Status = BroadcastStatusScheduled
				b.ScheduledAt = &scheduledAt
			},
		},
		{
			name:    "negative counter",
			mutate:  func(b *Broadcast) { b.FailedCount = -1 },
			wantErr: true,
		},
		{
			name:    "progress above total",
			mutate:  func(b *Broadcast) { b.SentCount = 96 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestBroadcastRenderFor(t *testing.T) {
	t.Parallel()

	ana := "Ana"
	tests := []struct {
		name      string
		message   string
		recipient Recipient
		want      string
	}{
		{name: "english placeholder", message: "Hi {{name}}, your PIX is ready", recipient: Recipient{Name: &ana}, want: "Hi Ana, your PIX is ready"},
		{name: "portuguese placeholder", message: "Olá {{nome}}!", recipient: Recipient{Name: &ana}, want: "Olá Ana!"},
		{name: "missing name", message: "{{nome}} Promoção ativa", recipient: Recipient{}, want: "Promoção ativa"},
		{name: "no placeholder", message: "Promoção ativa", recipient: Recipient{Name: &ana}, want: "Promoção ativa"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := Broadcast{Message: tt.message}
			if got := b.RenderFor(tt.recipient); got != tt.want {
				t.Fatalf("RenderFor() = %q, want %q", got, tt.want)
			}
		})
	}
}
