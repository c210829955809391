package email

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"companion/internal/clock"
	"companion/internal/types"
)

// mockClaimStore serves one canned batch.
type mockClaimStore struct {
	entries  []*types.EmailQueueEntry
	claimErr error
	limit    int
}

func (m *mockClaimStore) Claim(_ context.Context, limit int, _ time.Time) ([]*types.EmailQueueEntry, error) {
	m.limit = limit
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	return m.entries, nil
}

// mockDeliverer records delivered ids and fails the configured ones.
type mockDeliverer struct {
	mu      sync.Mutex
	ids     []string
	failIDs map[string]bool
}

func (m *mockDeliverer) DeliverEntry(_ context.Context, entry *types.EmailQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, entry.ID)
	if m.failIDs[entry.ID] {
		return errors.New("simulated delivery failure")
	}
	return nil
}

func newTestProcessor(store *mockClaimStore, deliverer *mockDeliverer) *Processor {
	return &Processor{
		Log:     breakerLogger(),
		Queue:   store,
		Sender:  deliverer,
		Breaker: &mockBreakerGate{},
		Clock:   clock.FixedClock{Instant: breakerNow},
		Limit:   50,
		Workers: 4,
	}
}

func TestProcessor_Drain_DeliversAllClaimed(t *testing.T) {
	store := &mockClaimStore{entries: []*types.EmailQueueEntry{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}}
	deliverer := &mockDeliverer{}

	result, err := newTestProcessor(store, deliverer).Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned unexpected error: %v", err)
	}
	if result.Claimed != 3 || result.Handled != 3 || result.Errors != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(deliverer.ids) != 3 {
		t.Errorf("expected 3 deliveries, got %v", deliverer.ids)
	}
	if store.limit != 50 {
		t.Errorf("expected claim limit 50, got %d", store.limit)
	}
}

func TestProcessor_Drain_CountsFailuresWithoutAborting(t *testing.T) {
	store := &mockClaimStore{entries: []*types.EmailQueueEntry{
		{ID: "a"}, {ID: "b"}, {ID: "c"},
	}}
	deliverer := &mockDeliverer{failIDs: map[string]bool{"b": true}}

	result, err := newTestProcessor(store, deliverer).Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned unexpected error: %v", err)
	}
	if result.Handled != 2 || result.Errors != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(deliverer.ids) != 3 {
		t.Errorf("a failed entry must not stop the batch, got %v", deliverer.ids)
	}
}

func TestProcessor_Drain_EmptyQueue(t *testing.T) {
	store := &mockClaimStore{}
	deliverer := &mockDeliverer{}

	result, err := newTestProcessor(store, deliverer).Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned unexpected error: %v", err)
	}
	if result.Claimed != 0 || result.Handled != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestProcessor_Drain_BreakerOpenSkipsClaim(t *testing.T) {
	store := &mockClaimStore{entries: []*types.EmailQueueEntry{{ID: "a"}}}
	deliverer := &mockDeliverer{}

	p := newTestProcessor(store, deliverer)
	p.Breaker = &mockBreakerGate{blocked: true}

	result, err := p.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned unexpected error: %v", err)
	}
	// Nothing is claimed while the breaker is open, so pending entries keep
	// their attempts for after the cooldown.
	if result.Claimed != 0 || len(deliverer.ids) != 0 {
		t.Errorf("open breaker must skip the drain pass, result=%+v delivered=%v", result, deliverer.ids)
	}
	if store.limit != 0 {
		t.Error("Claim must not be reached while the breaker is open")
	}
}

func TestProcessor_Drain_ClaimErrorPropagates(t *testing.T) {
	store := &mockClaimStore{claimErr: errors.New("connection refused")}
	deliverer := &mockDeliverer{}

	if _, err := newTestProcessor(store, deliverer).Drain(context.Background()); err == nil {
		t.Fatal("expected claim error to propagate")
	}
}
