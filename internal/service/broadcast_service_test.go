package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
)

func newTestBroadcastService(t *testing.T, store *memoryStore, invoker Invoker) *BroadcastService {
	t.Helper()

	svc, err := NewBroadcastService(store, store, invoker, nil)
	if err != nil {
		t.Fatalf("NewBroadcastService() error = %v", err)
	}
	svc.now = func() time.Time { return coordinatorNow }
	return svc
}

func strPtr(v string) *string { return &v }

func TestNewBroadcastServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewBroadcastService(nil, newMemoryStore(), nil, nil); err == nil {
		t.Fatal("expected error for nil broadcast repository")
	}
	if _, err := NewBroadcastService(newMemoryStore(), nil, nil, nil); err == nil {
		t.Fatal("expected error for nil recipient repository")
	}
}

func TestBroadcastServiceCreateValidation(t *testing.T) {
	t.Parallel()

	manyRecipients := make([]RecipientInput, maxBroadcastRecipients+1)
	for i := range manyRecipients {
		manyRecipients[i] = RecipientInput{Phone: "5511912345678"}
	}

	tests := []struct {
		name  string
		input CreateBroadcastInput
	}{
		{
			name:  "no recipients",
			input: CreateBroadcastInput{Name: "n", Message: "m"},
		},
		{
			name:  "too many recipients",
			input: CreateBroadcastInput{Name: "n", Message: "m", Recipients: manyRecipients},
		},
		{
			name:  "missing name",
			input: CreateBroadcastInput{Message: "m", Recipients: []RecipientInput{{Phone: "5511912345678"}}},
		},
		{
			name:  "missing message",
			input: CreateBroadcastInput{Name: "n", Message: "  ", Recipients: []RecipientInput{{Phone: "5511912345678"}}},
		},
		{
			name:  "short phone",
			input: CreateBroadcastInput{Name: "n", Message: "m", Recipients: []RecipientInput{{Phone: "12345"}}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryStore()
			_, err := newTestBroadcastService(t, store, nil).Create(context.Background(), tt.input)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Create() error = %v, want ErrValidation", err)
			}
			if len(store.broadcasts) != 0 {
				t.Fatal("invalid broadcast must not be stored")
			}
		})
	}
}

func TestBroadcastServiceCreateNormalizesAndDedupes(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	scheduledAt := coordinatorNow.Add(time.Hour)
	invoker := &fakeInvoker{}

	b, err := newTestBroadcastService(t, store, invoker).Create(context.Background(), CreateBroadcastInput{
		UserID:      strPtr("  "),
		Name:        "  Spring sale ",
		Message:     "Hi {{name}}",
		ScheduledAt: &scheduledAt,
		Recipients: []RecipientInput{
			{Phone: "+55 11 91234-5678", Name: strPtr("Ana")},
			{Phone: "5511912345678"},
			{Phone: "(11) 98765-4321"},
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if b.Status != domain.BroadcastStatusScheduled || b.Name != "Spring sale" || b.UserID != nil {
		t.Fatalf("unexpected broadcast: %+v", b)
	}
	if b.TotalRecipients != 2 {
		t.Fatalf("total_recipients = %d, want 2", b.TotalRecipients)
	}

	stored := store.recipients[b.ID]
	if len(stored) != 2 || stored[0].Phone != "5511912345678" || stored[1].Phone != "11987654321" {
		t.Fatalf("unexpected recipients: %+v %+v", stored[0], stored[1])
	}
	for _, r := range stored {
		if r.Status != domain.RecipientStatusPending || r.BroadcastID != b.ID {
			t.Fatalf("unexpected recipient: %+v", r)
		}
	}

	if len(invoker.requests()) != 0 {
		t.Fatal("future broadcast must wait for the scheduler")
	}
}

func TestBroadcastServiceCreateStartsDueBroadcast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		invokeErr error
	}{
		{name: "invoke accepted"},
		{name: "invoke failure is not fatal", invokeErr: errors.New("worker unavailable")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryStore()
			invoker := &fakeInvoker{
				invokeFn: func(context.Context, domain.DispatchRequest) error { return tt.invokeErr },
			}

			b, err := newTestBroadcastService(t, store, invoker).Create(context.Background(), CreateBroadcastInput{
				Name:       "now",
				Message:    "ping",
				Recipients: []RecipientInput{{Phone: "5511912345678"}},
			})
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if !b.ScheduledAt.Equal(coordinatorNow) {
				t.Fatalf("scheduled_at = %s, want %s", b.ScheduledAt, coordinatorNow)
			}

			calls := invoker.requests()
			if len(calls) != 1 || calls[0].Action != domain.DispatchActionStart || calls[0].BroadcastID != b.ID {
				t.Fatalf("unexpected invoke calls: %+v", calls)
			}
			if got := store.broadcast(b.ID).Status; got != domain.BroadcastStatusScheduled {
				t.Fatalf("status = %s, want scheduled", got)
			}
		})
	}
}

func TestBroadcastServiceGetProgress(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.addBroadcast(runningBroadcast("G1", nil, 6))
	store.addRecipients("G1", domain.RecipientStatusSent, 3)
	store.addRecipients("G1", domain.RecipientStatusFailed, 1)
	store.addRecipients("G1", domain.RecipientStatusPending, 2)

	svc := newTestBroadcastService(t, store, nil)

	progress, err := svc.GetProgress(context.Background(), " G1 ")
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if progress.Pending != 2 || len(progress.Counts) != 3 || progress.Broadcast.ID != "G1" {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	if _, err := svc.GetProgress(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("GetProgress(\"\") error = %v, want ErrValidation", err)
	}
	if _, err := svc.GetProgress(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetProgress(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPrepareBroadcastForCreateRejectsInvalidRecipientIndex(t *testing.T) {
	t.Parallel()

	_, _, err := prepareBroadcastForCreate(CreateBroadcastInput{
		Name:    "n",
		Message: "m",
		Recipients: []RecipientInput{
			{Phone: "5511912345678"},
			{Phone: "abc"},
		},
	}, coordinatorNow)
	if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), "recipient 1") {
		t.Fatalf("prepareBroadcastForCreate() error = %v", err)
	}
}
