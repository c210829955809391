package email

import (
	"context"
	"log/slog"
	"time"

	"companion/internal/clock"
	"companion/internal/types"
)

// Breaker thresholds. Five transport failures inside the failure window trip
// the breaker; after the cooldown a single probe send is allowed through,
// and its outcome decides between closing again and staying open.
const (
	BreakerFailureThreshold = 5
	BreakerFailureWindow    = 10 * time.Minute
	BreakerCooldown         = 15 * time.Minute
)

// BreakerStore persists breaker rows. The failure and success mutations are
// single atomic statements so concurrent workers never lose an increment to
// a stale read. Satisfied by db.BreakerRepository.
type BreakerStore interface {
	Get(ctx context.Context, service types.BreakerService) (*types.CircuitBreakerState, error)
	RecordFailure(ctx context.Context, service types.BreakerService, now time.Time, window time.Duration, threshold int) (*types.CircuitBreakerState, error)
	RecordSuccess(ctx context.Context, service types.BreakerService) (wasOpen bool, err error)
}

// Breaker is the durable circuit breaker for a downstream service. Unlike
// the process-local gobreaker inside the SMTP transport, its state lives in
// the database: it survives restarts and is shared by every worker, so a
// fleet of send workers backs off together.
type Breaker struct {
	Service types.BreakerService
	Store   BreakerStore
	Clock   clock.Clock
	Log     *slog.Logger
}

// Allow reports whether a send may proceed. An open breaker blocks traffic
// until the cooldown has elapsed, after which calls are let through as
// half-open probes; the breaker row stays open until a probe succeeds.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	st, err := b.Store.Get(ctx, b.Service)
	if err != nil {
		return false, err
	}
	if !st.IsOpen {
		return true, nil
	}

	now := b.Clock.NowUTC()
	if st.LastFailureTime != nil && now.Sub(*st.LastFailureTime) >= BreakerCooldown {
		b.Log.InfoContext(ctx, "circuit breaker half-open, allowing probe",
			"service", string(b.Service),
			"open_since", st.LastFailureTime.Format(time.RFC3339),
		)
		return true, nil
	}
	return false, nil
}

// RecordSuccess closes the breaker and clears the failure streak. Called
// after every accepted send, including half-open probes.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	wasOpen, err := b.Store.RecordSuccess(ctx, b.Service)
	if err != nil {
		return err
	}
	if wasOpen {
		b.Log.InfoContext(ctx, "circuit breaker closed after successful probe",
			"service", string(b.Service))
	}
	return nil
}

// RecordFailure registers a transient transport failure. Failures separated
// by more than the failure window restart the streak at one; a streak
// reaching the threshold opens the breaker. The increment happens in one
// statement in the store, so parallel workers all land their failures.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	now := b.Clock.NowUTC()
	st, err := b.Store.RecordFailure(ctx, b.Service, now, BreakerFailureWindow, BreakerFailureThreshold)
	if err != nil {
		return err
	}
	if st.IsOpen && st.FailureCount == BreakerFailureThreshold {
		b.Log.ErrorContext(ctx, "circuit breaker opened",
			"service", string(b.Service),
			"failure_count", st.FailureCount,
		)
	}
	return nil
}
