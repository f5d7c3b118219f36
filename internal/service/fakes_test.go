package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/broadcast-engine/internal/domain"
	"github.com/kursadbilgin/broadcast-engine/internal/provider"
	"github.com/kursadbilgin/broadcast-engine/internal/queue"
	"github.com/kursadbilgin/broadcast-engine/internal/ratelimit"
	"github.com/kursadbilgin/broadcast-engine/internal/repository"
)

// memoryStore is an in-memory ledger whose writes follow the same conditions as the gorm
// repositories, so claim, completion and counter rules can be exercised without Postgres.
type memoryStore struct {
	mu         sync.Mutex
	broadcasts map[string]*domain.Broadcast
	recipients map[string][]*domain.Recipient
	seq        int

	countErr map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		broadcasts: make(map[string]*domain.Broadcast),
		recipients: make(map[string][]*domain.Recipient),
		countErr:   make(map[string]error),
	}
}

func (m *memoryStore) addBroadcast(b domain.Broadcast) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := b
	m.broadcasts[b.ID] = &copied
}

func (m *memoryStore) addRecipients(broadcastID string, status domain.RecipientStatus, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.seq++
		m.recipients[broadcastID] = append(m.recipients[broadcastID], &domain.Recipient{
			ID:          fmt.Sprintf("%s-r%d", broadcastID, m.seq),
			BroadcastID: broadcastID,
			Phone:       fmt.Sprintf("55119%08d", m.seq),
			Status:      status,
			CreatedAt:   time.Unix(int64(m.seq), 0).UTC(),
		})
	}
}

func (m *memoryStore) broadcast(id string) domain.Broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.broadcasts[id]
}

func (m *memoryStore) pendingCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingLocked(id)
}

func (m *memoryStore) pendingLocked(id string) int {
	n := 0
	for _, r := range m.recipients[id] {
		if r.Status == domain.RecipientStatusPending {
			n++
		}
	}
	return n
}

func leaseStale(b *domain.Broadcast, staleBefore time.Time) bool {
	return b.LastProcessingAt == nil || b.LastProcessingAt.Before(staleBefore)
}

func (m *memoryStore) Create(_ context.Context, b *domain.Broadcast) error {
	m.addBroadcast(*b)
	return nil
}

func (m *memoryStore) CreateWithRecipients(_ context.Context, b *domain.Broadcast, recipients []*domain.Recipient) error {
	m.addBroadcast(*b)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recipients {
		copied := *r
		m.recipients[b.ID] = append(m.recipients[b.ID], &copied)
	}
	return nil
}

func (m *memoryStore) GetByID(_ context.Context, id string) (*domain.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *b
	return &copied, nil
}

func (m *memoryStore) GetDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Broadcast
	for _, b := range m.broadcasts {
		if b.Status == domain.BroadcastStatusScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) GetStalledRunning(_ context.Context, staleBefore time.Time, limit int) ([]domain.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Broadcast
	for _, b := range m.broadcasts {
		if b.Status == domain.BroadcastStatusRunning && leaseStale(b, staleBefore) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) ClaimLease(_ context.Context, id string, staleBefore time.Time, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok || b.Status != domain.BroadcastStatusRunning || !leaseStale(b, staleBefore) {
		return false, nil
	}
	claimed := now
	b.LastProcessingAt = &claimed
	return true, nil
}

func (m *memoryStore) Heartbeat(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.broadcasts[id]; ok && b.Status == domain.BroadcastStatusRunning {
		beat := now
		b.LastProcessingAt = &beat
	}
	return nil
}

func (m *memoryStore) ReleaseLease(_ context.Context, id string, heldAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if ok && b.Status == domain.BroadcastStatusRunning && b.LastProcessingAt != nil && b.LastProcessingAt.Equal(heldAt) {
		b.LastProcessingAt = nil
	}
	return nil
}

func (m *memoryStore) MarkRunning(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok || b.Status != domain.BroadcastStatusScheduled {
		return false, nil
	}
	started := now
	b.Status = domain.BroadcastStatusRunning
	b.TotalRecipients = len(m.recipients[id])
	b.StartedAt = &started
	b.LastProcessingAt = &started
	return true, nil
}

func (m *memoryStore) MarkCompleted(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.broadcasts[id]
	if !ok || b.Status != domain.BroadcastStatusRunning || m.pendingLocked(id) > 0 {
		return false, nil
	}
	completedAt := now
	b.Status = domain.BroadcastStatusCompleted
	b.CompletedAt = &completedAt
	return true, nil
}

func (m *memoryStore) CreateBatch(_ context.Context, recipients []*domain.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recipients {
		copied := *r
		m.recipients[r.BroadcastID] = append(m.recipients[r.BroadcastID], &copied)
	}
	return nil
}

func (m *memoryStore) CountPending(_ context.Context, broadcastID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.countErr[broadcastID]; err != nil {
		return 0, err
	}
	return int64(m.pendingLocked(broadcastID)), nil
}

func (m *memoryStore) ClaimNextPending(_ context.Context, broadcastID string, now time.Time, staleBefore time.Time) (*domain.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients[broadcastID] {
		if r.Status != domain.RecipientStatusPending {
			continue
		}
		if r.ClaimedAt != nil && !r.ClaimedAt.Before(staleBefore) {
			continue
		}
		claimedAt := now
		r.ClaimedAt = &claimedAt
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *memoryStore) RecordOutcome(_ context.Context, broadcastID string, recipientID string, outcome repository.RecipientOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients[broadcastID] {
		if r.ID != recipientID || r.Status != domain.RecipientStatusPending {
			continue
		}
		r.Status = outcome.Status
		r.ProviderMessageID = outcome.ProviderMessageID
		r.ErrorMessage = outcome.ErrorMessage

		b := m.broadcasts[broadcastID]
		if b.SentCount+b.FailedCount < b.TotalRecipients {
			if outcome.Status == domain.RecipientStatusSent {
				b.SentCount++
			} else {
				b.FailedCount++
			}
		}
		return true, nil
	}
	return false, nil
}

func (m *memoryStore) CountByStatus(_ context.Context, broadcastID string) ([]domain.RecipientStatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.RecipientStatus]int{}
	for _, r := range m.recipients[broadcastID] {
		counts[r.Status]++
	}
	out := make([]domain.RecipientStatusCount, 0, len(counts))
	for _, status := range []domain.RecipientStatus{domain.RecipientStatusPending, domain.RecipientStatusSent, domain.RecipientStatusFailed} {
		if n, ok := counts[status]; ok {
			out = append(out, domain.RecipientStatusCount{Status: status, Count: n})
		}
	}
	return out, nil
}

var (
	_ repository.BroadcastRepository = (*memoryStore)(nil)
	_ repository.RecipientRepository = (*memoryStore)(nil)
)

// fakeBroadcastRepo wraps a memoryStore and lets a test override single calls.
type fakeBroadcastRepo struct {
	*memoryStore
	getStalledRunningFn func(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Broadcast, error)
	getDueScheduledFn   func(ctx context.Context, now time.Time, limit int) ([]domain.Broadcast, error)
	claimLeaseFn        func(ctx context.Context, id string, staleBefore time.Time, now time.Time) (bool, error)
	markCompletedFn     func(ctx context.Context, id string, now time.Time) (bool, error)
}

func (f *fakeBroadcastRepo) GetStalledRunning(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Broadcast, error) {
	if f.getStalledRunningFn != nil {
		return f.getStalledRunningFn(ctx, staleBefore, limit)
	}
	return f.memoryStore.GetStalledRunning(ctx, staleBefore, limit)
}

func (f *fakeBroadcastRepo) GetDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Broadcast, error) {
	if f.getDueScheduledFn != nil {
		return f.getDueScheduledFn(ctx, now, limit)
	}
	return f.memoryStore.GetDueScheduled(ctx, now, limit)
}

func (f *fakeBroadcastRepo) ClaimLease(ctx context.Context, id string, staleBefore time.Time, now time.Time) (bool, error) {
	if f.claimLeaseFn != nil {
		return f.claimLeaseFn(ctx, id, staleBefore, now)
	}
	return f.memoryStore.ClaimLease(ctx, id, staleBefore, now)
}

func (f *fakeBroadcastRepo) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	if f.markCompletedFn != nil {
		return f.markCompletedFn(ctx, id, now)
	}
	return f.memoryStore.MarkCompleted(ctx, id, now)
}

type fakeInvoker struct {
	mu       sync.Mutex
	calls    []domain.DispatchRequest
	invokeFn func(ctx context.Context, req domain.DispatchRequest) error
}

func (f *fakeInvoker) Invoke(ctx context.Context, req domain.DispatchRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.invokeFn != nil {
		return f.invokeFn(ctx, req)
	}
	return nil
}

func (f *fakeInvoker) requests() []domain.DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.DispatchRequest(nil), f.calls...)
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []provider.OutboundMessage
	sendFn func(ctx context.Context, msg provider.OutboundMessage) (*provider.ProviderResponse, error)
}

func (f *fakeSender) Send(ctx context.Context, msg provider.OutboundMessage) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{StatusCode: 200, MessageID: "wamid." + msg.To}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type stubFlags struct {
	enabled bool
	err     error
}

func (s stubFlags) Enabled(context.Context, string) (bool, error) {
	return s.enabled, s.err
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeDispatchHandler struct {
	handleFn func(ctx context.Context, req domain.DispatchRequest) (DispatchResult, error)
}

func (f *fakeDispatchHandler) Handle(ctx context.Context, req domain.DispatchRequest) (DispatchResult, error) {
	if f.handleFn != nil {
		return f.handleFn(ctx, req)
	}
	return DispatchResult{BroadcastID: req.BroadcastID, Action: req.Action}, nil
}

func timePtr(t time.Time) *time.Time { return &t }
