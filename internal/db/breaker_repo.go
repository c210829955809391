package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"companion/internal/types"
)

// BreakerRepository provides data access for the circuit_breaker_state table.
// The database row is the source of truth for breaker state so that it
// survives worker restarts and is shared across concurrently running workers.
type BreakerRepository struct {
	db DBTX
}

// NewBreakerRepository creates a BreakerRepository backed by the given
// database connection (pool or transaction).
func NewBreakerRepository(db DBTX) *BreakerRepository {
	return &BreakerRepository{db: db}
}

// Get returns the breaker row for a service, creating a closed default row
// if none exists yet. The upsert makes first use race-free across workers.
func (r *BreakerRepository) Get(ctx context.Context, service types.BreakerService) (*types.CircuitBreakerState, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO circuit_breaker_state (service)
		 VALUES ($1)
		 ON CONFLICT (service) DO UPDATE SET service = EXCLUDED.service
		 RETURNING service, failure_count, last_failure_time, is_open, updated_at`,
		string(service))

	var (
		st  types.CircuitBreakerState
		svc string
	)
	err := row.Scan(&svc, &st.FailureCount, &st.LastFailureTime, &st.IsOpen, &st.UpdatedAt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get circuit breaker state", err)
	}
	st.Service = types.BreakerService(svc)
	return &st, nil
}

// RecordFailure registers one transport failure in a single atomic
// statement: concurrent workers each land their own increment instead of
// overwriting a stale read. A failure arriving after the window restarts
// the streak at one; a streak reaching the threshold opens the breaker.
// Returns the state after the update.
func (r *BreakerRepository) RecordFailure(ctx context.Context, service types.BreakerService, now time.Time, window time.Duration, threshold int) (*types.CircuitBreakerState, error) {
	windowStart := now.UTC().Add(-window)
	row := r.db.QueryRow(ctx,
		`INSERT INTO circuit_breaker_state (service, failure_count, last_failure_time, is_open)
		 VALUES ($1, 1, $2, FALSE)
		 ON CONFLICT (service) DO UPDATE SET
			failure_count = CASE
				WHEN circuit_breaker_state.last_failure_time IS NULL
				  OR circuit_breaker_state.last_failure_time < $3 THEN 1
				ELSE circuit_breaker_state.failure_count + 1
			END,
			last_failure_time = $2,
			is_open = circuit_breaker_state.is_open OR (CASE
				WHEN circuit_breaker_state.last_failure_time IS NULL
				  OR circuit_breaker_state.last_failure_time < $3 THEN 1
				ELSE circuit_breaker_state.failure_count + 1
			END) >= $4,
			updated_at = NOW()
		 RETURNING service, failure_count, last_failure_time, is_open, updated_at`,
		string(service), now.UTC(), windowStart, threshold)

	var (
		st  types.CircuitBreakerState
		svc string
	)
	err := row.Scan(&svc, &st.FailureCount, &st.LastFailureTime, &st.IsOpen, &st.UpdatedAt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to record circuit breaker failure", err)
	}
	st.Service = types.BreakerService(svc)
	return &st, nil
}

// RecordSuccess closes the breaker and clears the failure streak in one
// statement, reporting whether the breaker was open beforehand. A missing
// or already-clean row is a no-op.
func (r *BreakerRepository) RecordSuccess(ctx context.Context, service types.BreakerService) (bool, error) {
	row := r.db.QueryRow(ctx,
		`WITH prev AS (
			SELECT service, is_open FROM circuit_breaker_state
			WHERE service = $1
			FOR UPDATE
		 )
		 UPDATE circuit_breaker_state s SET
			failure_count = 0,
			last_failure_time = NULL,
			is_open = FALSE,
			updated_at = NOW()
		 FROM prev
		 WHERE s.service = prev.service
		   AND (prev.is_open OR s.failure_count > 0)
		 RETURNING prev.is_open`,
		string(service))

	var wasOpen bool
	err := row.Scan(&wasOpen)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record circuit breaker success", err)
	}
	return wasOpen, nil
}

// ResetStale closes any breaker whose last state change is older than maxAge.
// A breaker that has sat open for that long is assumed to be stale wreckage
// from an old incident rather than live protection. Returns the number of
// rows reset.
func (r *BreakerRepository) ResetStale(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE circuit_breaker_state SET
			failure_count = 0,
			last_failure_time = NULL,
			is_open = FALSE,
			updated_at = NOW()
		 WHERE is_open AND updated_at < $1`,
		now.UTC().Add(-maxAge))
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reset stale circuit breakers", err)
	}
	return tag.RowsAffected(), nil
}
