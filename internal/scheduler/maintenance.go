// Package scheduler implements the scheduled maintenance job. It purges
// expired session tokens, resets stale circuit breakers, releases email
// queue entries orphaned in the sending state, and repairs reminder rows
// whose stored time-of-day values have drifted.
//
// All operations are idempotent: running the job twice in a row does the
// remaining work on the first pass and nothing on the second. Every service
// accepts a `now` parameter for deterministic testing and manual backfill.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Retention and staleness thresholds.
const (
	// SessionRetention is how long session tokens are kept before purge.
	SessionRetention = 30 * 24 * time.Hour

	// BreakerStaleAge is how long an open breaker may sit untouched before
	// maintenance force-closes it as leftover incident state.
	BreakerStaleAge = 24 * time.Hour

	// StaleSendingAge is how long an email queue entry may stay in the
	// sending state before it is considered orphaned by a dead worker.
	StaleSendingAge = 1 * time.Hour
)

// SessionPurger deletes old session tokens. Satisfied by db.SessionRepository.
type SessionPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BreakerResetter force-closes stale open breakers. Satisfied by
// db.BreakerRepository.
type BreakerResetter interface {
	ResetStale(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error)
}

// StaleReleaser returns orphaned sending entries to pending. Satisfied by
// db.EmailQueueRepository.
type StaleReleaser interface {
	ReleaseStale(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error)
}

// ReminderRepairer runs the reminder data repair routines. Satisfied by
// db.ReminderRepository.
type ReminderRepairer interface {
	BackfillLocalTimes(ctx context.Context) (int64, error)
	RederiveUTCTimes(ctx context.Context) (int64, error)
	DedupeActive(ctx context.Context) (int64, error)
}

// MaintenanceResult reports what one maintenance run changed.
type MaintenanceResult struct {
	SessionsPurged   int64 `json:"sessions_purged"`
	BreakersReset    int64 `json:"breakers_reset"`
	EntriesReleased  int64 `json:"entries_released"`
	LocalBackfilled  int64 `json:"local_times_backfilled"`
	UTCRederived     int64 `json:"utc_times_rederived"`
	DuplicatesPruned int64 `json:"duplicates_pruned"`
}

// MaintenanceService runs the daily maintenance pass.
type MaintenanceService struct {
	Log       *slog.Logger
	Sessions  SessionPurger
	Breakers  BreakerResetter
	Queue     StaleReleaser
	Reminders ReminderRepairer
}

// Run executes every maintenance step. Steps are independent: a failing step
// is logged and recorded, and the remaining steps still run. The joined
// error covers all failed steps so the job run is marked failed for
// operators while still having done the work it could.
func (s *MaintenanceService) Run(ctx context.Context, now time.Time) (*MaintenanceResult, error) {
	result := &MaintenanceResult{}
	var errs []error

	n, err := s.Sessions.DeleteOlderThan(ctx, now.Add(-SessionRetention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purging session tokens: %w", err))
		s.Log.ErrorContext(ctx, "session token purge failed", "error", err)
	} else {
		result.SessionsPurged = n
	}

	n, err = s.Breakers.ResetStale(ctx, BreakerStaleAge, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("resetting stale breakers: %w", err))
		s.Log.ErrorContext(ctx, "stale breaker reset failed", "error", err)
	} else {
		result.BreakersReset = n
		if n > 0 {
			s.Log.WarnContext(ctx, "force-closed stale circuit breakers", "count", n)
		}
	}

	n, err = s.Queue.ReleaseStale(ctx, StaleSendingAge, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("releasing stale sending entries: %w", err))
		s.Log.ErrorContext(ctx, "stale sending release failed", "error", err)
	} else {
		result.EntriesReleased = n
	}

	if err := s.repairReminders(ctx, result); err != nil {
		errs = append(errs, err)
	}

	s.Log.InfoContext(ctx, "maintenance run complete",
		"sessions_purged", result.SessionsPurged,
		"breakers_reset", result.BreakersReset,
		"entries_released", result.EntriesReleased,
		"local_times_backfilled", result.LocalBackfilled,
		"utc_times_rederived", result.UTCRederived,
		"duplicates_pruned", result.DuplicatesPruned,
		"failed_steps", len(errs),
	)
	return result, errors.Join(errs...)
}

// repairReminders runs the three data repair routines in dependency order:
// duplicates are pruned first so backfill and re-derivation touch only
// surviving rows, and local times are backfilled before UTC re-derivation
// can trust them.
func (s *MaintenanceService) repairReminders(ctx context.Context, result *MaintenanceResult) error {
	var errs []error

	n, err := s.Reminders.DedupeActive(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("pruning duplicate reminders: %w", err))
		s.Log.ErrorContext(ctx, "reminder dedupe failed", "error", err)
	} else {
		result.DuplicatesPruned = n
		if n > 0 {
			s.Log.WarnContext(ctx, "pruned duplicate active reminders", "count", n)
		}
	}

	n, err = s.Reminders.BackfillLocalTimes(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("backfilling local reminder times: %w", err))
		s.Log.ErrorContext(ctx, "local time backfill failed", "error", err)
	} else {
		result.LocalBackfilled = n
	}

	n, err = s.Reminders.RederiveUTCTimes(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("re-deriving reminder UTC times: %w", err))
		s.Log.ErrorContext(ctx, "utc time re-derivation failed", "error", err)
	} else {
		result.UTCRederived = n
		if n > 0 {
			s.Log.WarnContext(ctx, "re-derived drifted reminder UTC times", "count", n)
		}
	}

	return errors.Join(errs...)
}
