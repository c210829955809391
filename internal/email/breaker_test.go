package email

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"companion/internal/clock"
	"companion/internal/types"
)

// mockBreakerStore keeps the breaker row in memory, applying the failure
// and success mutations the way the repository's atomic statements do.
type mockBreakerStore struct {
	state  *types.CircuitBreakerState
	writes int
}

func (m *mockBreakerStore) ensure(service types.BreakerService) *types.CircuitBreakerState {
	if m.state == nil {
		m.state = &types.CircuitBreakerState{Service: service}
	}
	return m.state
}

func (m *mockBreakerStore) Get(_ context.Context, service types.BreakerService) (*types.CircuitBreakerState, error) {
	copied := *m.ensure(service)
	return &copied, nil
}

func (m *mockBreakerStore) RecordFailure(_ context.Context, service types.BreakerService, now time.Time, window time.Duration, threshold int) (*types.CircuitBreakerState, error) {
	st := m.ensure(service)
	if st.LastFailureTime == nil || st.LastFailureTime.Before(now.Add(-window)) {
		st.FailureCount = 1
	} else {
		st.FailureCount++
	}
	ts := now
	st.LastFailureTime = &ts
	st.IsOpen = st.IsOpen || st.FailureCount >= threshold
	m.writes++
	copied := *st
	return &copied, nil
}

func (m *mockBreakerStore) RecordSuccess(_ context.Context, _ types.BreakerService) (bool, error) {
	if m.state == nil || (!m.state.IsOpen && m.state.FailureCount == 0) {
		return false, nil
	}
	wasOpen := m.state.IsOpen
	m.state.FailureCount = 0
	m.state.LastFailureTime = nil
	m.state.IsOpen = false
	m.writes++
	return wasOpen, nil
}

func breakerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBreaker(store *mockBreakerStore, now time.Time) *Breaker {
	return &Breaker{
		Service: types.BreakerEmail,
		Store:   store,
		Clock:   clock.FixedClock{Instant: now},
		Log:     breakerLogger(),
	}
}

var breakerNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func TestBreaker_ClosedAllowsTraffic(t *testing.T) {
	store := &mockBreakerStore{}
	b := newTestBreaker(store, breakerNow)

	allowed, err := b.Allow(context.Background())
	if err != nil {
		t.Fatalf("Allow returned unexpected error: %v", err)
	}
	if !allowed {
		t.Error("closed breaker must allow traffic")
	}
}

func TestBreaker_OpensAfterThresholdFailures(t *testing.T) {
	store := &mockBreakerStore{}
	b := newTestBreaker(store, breakerNow)
	ctx := context.Background()

	for i := 0; i < BreakerFailureThreshold; i++ {
		if err := b.RecordFailure(ctx); err != nil {
			t.Fatalf("RecordFailure %d returned error: %v", i, err)
		}
	}

	if !store.state.IsOpen {
		t.Fatal("breaker must open at the failure threshold")
	}
	if store.state.FailureCount != BreakerFailureThreshold {
		t.Errorf("expected failure count %d, got %d", BreakerFailureThreshold, store.state.FailureCount)
	}

	allowed, _ := b.Allow(ctx)
	if allowed {
		t.Error("freshly opened breaker must block traffic")
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	store := &mockBreakerStore{}
	b := newTestBreaker(store, breakerNow)
	ctx := context.Background()

	for i := 0; i < BreakerFailureThreshold-1; i++ {
		_ = b.RecordFailure(ctx)
	}
	if store.state.IsOpen {
		t.Error("breaker must stay closed below the threshold")
	}
}

func TestBreaker_FailureWindowResetsStreak(t *testing.T) {
	store := &mockBreakerStore{}
	ctx := context.Background()

	// Four failures at t0, then one more after the window has passed.
	b := newTestBreaker(store, breakerNow)
	for i := 0; i < BreakerFailureThreshold-1; i++ {
		_ = b.RecordFailure(ctx)
	}

	later := newTestBreaker(store, breakerNow.Add(BreakerFailureWindow+time.Minute))
	_ = later.RecordFailure(ctx)

	if store.state.IsOpen {
		t.Error("stale failures must not count toward the threshold")
	}
	if store.state.FailureCount != 1 {
		t.Errorf("expected streak reset to 1, got %d", store.state.FailureCount)
	}
}

func TestBreaker_HalfOpenProbeAfterCooldown(t *testing.T) {
	store := &mockBreakerStore{}
	ctx := context.Background()

	b := newTestBreaker(store, breakerNow)
	for i := 0; i < BreakerFailureThreshold; i++ {
		_ = b.RecordFailure(ctx)
	}

	// Before the cooldown: blocked.
	early := newTestBreaker(store, breakerNow.Add(BreakerCooldown-time.Minute))
	if allowed, _ := early.Allow(ctx); allowed {
		t.Error("breaker must block before cooldown elapses")
	}

	// After the cooldown: a probe is allowed, but the row stays open.
	probe := newTestBreaker(store, breakerNow.Add(BreakerCooldown+time.Minute))
	if allowed, _ := probe.Allow(ctx); !allowed {
		t.Fatal("breaker must allow a probe after cooldown")
	}
	if !store.state.IsOpen {
		t.Error("probe permission must not close the breaker")
	}
}

func TestBreaker_SuccessClosesAndResets(t *testing.T) {
	store := &mockBreakerStore{}
	ctx := context.Background()

	b := newTestBreaker(store, breakerNow)
	for i := 0; i < BreakerFailureThreshold; i++ {
		_ = b.RecordFailure(ctx)
	}

	probe := newTestBreaker(store, breakerNow.Add(BreakerCooldown+time.Minute))
	if err := probe.RecordSuccess(ctx); err != nil {
		t.Fatalf("RecordSuccess returned error: %v", err)
	}

	if store.state.IsOpen || store.state.FailureCount != 0 || store.state.LastFailureTime != nil {
		t.Errorf("success must fully reset the breaker, got %+v", store.state)
	}
	if allowed, _ := probe.Allow(ctx); !allowed {
		t.Error("closed breaker must allow traffic again")
	}
}

func TestBreaker_SuccessOnCleanStateIsNoop(t *testing.T) {
	store := &mockBreakerStore{}
	b := newTestBreaker(store, breakerNow)

	if err := b.RecordSuccess(context.Background()); err != nil {
		t.Fatalf("RecordSuccess returned error: %v", err)
	}
	if store.writes != 0 {
		t.Errorf("clean state should not be rewritten, writes=%d", store.writes)
	}
}

func TestBreaker_EachFailureIsOneStoreMutation(t *testing.T) {
	store := &mockBreakerStore{}
	b := newTestBreaker(store, breakerNow)
	ctx := context.Background()

	// No read-modify-write pairs: every failure lands as a single store
	// mutation, so parallel workers cannot overwrite each other's counts.
	for i := 0; i < 3; i++ {
		if err := b.RecordFailure(ctx); err != nil {
			t.Fatalf("RecordFailure returned error: %v", err)
		}
	}
	if store.writes != 3 {
		t.Errorf("expected 3 store mutations, got %d", store.writes)
	}
	if store.state.FailureCount != 3 {
		t.Errorf("expected failure count 3, got %d", store.state.FailureCount)
	}
}
