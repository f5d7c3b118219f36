package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"go.uber.org/zap"
)

func scheduledBroadcast(id string, at time.Time) domain.Broadcast {
	return domain.Broadcast{
		ID:          id,
		Name:        "campaign " + id,
		Message:     "hi",
		Status:      domain.BroadcastStatusScheduled,
		ScheduledAt: timePtr(at),
	}
}

func newTestScheduler(t *testing.T, repo *fakeBroadcastRepo, invoker *fakeInvoker, limit int) *Scheduler {
	t.Helper()

	scheduler, err := NewScheduler(repo, invoker, limit, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	scheduler.now = func() time.Time { return coordinatorNow }
	return scheduler
}

func TestNewSchedulerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler(nil, &fakeInvoker{}, 0, nil); err == nil {
		t.Fatal("expected error for nil repository")
	}
	if _, err := NewScheduler(newMemoryStore(), nil, 0, nil); err == nil {
		t.Fatal("expected error for nil invoker")
	}
}

func TestSchedulerCheckDueStartsDueBroadcastsEarliestFirst(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.addBroadcast(scheduledBroadcast("late", coordinatorNow.Add(-time.Minute)))
	store.addBroadcast(scheduledBroadcast("early", coordinatorNow.Add(-time.Hour)))
	store.addBroadcast(scheduledBroadcast("future", coordinatorNow.Add(time.Hour)))
	running := runningBroadcast("running", nil, 1)
	store.addBroadcast(running)

	invoker := &fakeInvoker{}
	started, err := newTestScheduler(t, &fakeBroadcastRepo{memoryStore: store}, invoker, 0).CheckDue(context.Background())
	if err != nil {
		t.Fatalf("CheckDue() error = %v", err)
	}
	if started != 2 {
		t.Fatalf("started = %d, want 2", started)
	}

	calls := invoker.requests()
	if len(calls) != 2 || calls[0].BroadcastID != "early" || calls[1].BroadcastID != "late" {
		t.Fatalf("unexpected invoke order: %+v", calls)
	}
	for _, call := range calls {
		if call.Action != domain.DispatchActionStart {
			t.Fatalf("action = %s, want start", call.Action)
		}
	}

	// The trigger only hands off; the worker flips the status.
	if got := store.broadcast("early").Status; got != domain.BroadcastStatusScheduled {
		t.Fatalf("status = %s, want scheduled", got)
	}
}

func TestSchedulerCheckDueContinuesAfterInvokeFailure(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.addBroadcast(scheduledBroadcast("a", coordinatorNow.Add(-2*time.Minute)))
	store.addBroadcast(scheduledBroadcast("b", coordinatorNow.Add(-time.Minute)))

	invoker := &fakeInvoker{
		invokeFn: func(_ context.Context, req domain.DispatchRequest) error {
			if req.BroadcastID == "a" {
				return errors.New("timeout")
			}
			return nil
		},
	}

	started, err := newTestScheduler(t, &fakeBroadcastRepo{memoryStore: store}, invoker, 0).CheckDue(context.Background())
	if err != nil {
		t.Fatalf("CheckDue() error = %v", err)
	}
	if started != 1 || len(invoker.requests()) != 2 {
		t.Fatalf("started = %d, invoke calls = %d", started, len(invoker.requests()))
	}
}

func TestSchedulerCheckDuePassesLimitAndNow(t *testing.T) {
	t.Parallel()

	var gotNow time.Time
	var gotLimit int
	repo := &fakeBroadcastRepo{
		memoryStore: newMemoryStore(),
		getDueScheduledFn: func(_ context.Context, now time.Time, limit int) ([]domain.Broadcast, error) {
			gotNow, gotLimit = now, limit
			return nil, nil
		},
	}

	started, err := newTestScheduler(t, repo, &fakeInvoker{}, 7).CheckDue(context.Background())
	if err != nil {
		t.Fatalf("CheckDue() error = %v", err)
	}
	if started != 0 || gotLimit != 7 || !gotNow.Equal(coordinatorNow) {
		t.Fatalf("started = %d, limit = %d, now = %s", started, gotLimit, gotNow)
	}
}

func TestSchedulerCheckDueReturnsQueryError(t *testing.T) {
	t.Parallel()

	repo := &fakeBroadcastRepo{
		memoryStore: newMemoryStore(),
		getDueScheduledFn: func(context.Context, time.Time, int) ([]domain.Broadcast, error) {
			return nil, errors.New("connection reset")
		},
	}

	if _, err := newTestScheduler(t, repo, &fakeInvoker{}, 0).CheckDue(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
