package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"companion/internal/types"
)

// EmailQueueRepository provides data access for the durable email_queue table.
//
// The queue is the unit of durability for outbound mail: every email is
// enqueued before the first SMTP attempt, so a crashed worker loses at most
// an in-flight attempt, never the email itself.
type EmailQueueRepository struct {
	db DBTX
}

// NewEmailQueueRepository creates an EmailQueueRepository backed by the given
// database connection (pool or transaction).
func NewEmailQueueRepository(db DBTX) *EmailQueueRepository {
	return &EmailQueueRepository{db: db}
}

const emailColumns = `id, recipient, subject, body_text, body_html, status,
	attempts, created_at, last_attempt_at, sent_at, error_message`

// retryBackoffCase maps the attempt count already recorded on a row to the
// minimum delay before the next claim: 30s, 2m, 10m, 1h, then 6h.
const retryBackoffCase = `CASE attempts
	WHEN 0 THEN INTERVAL '0'
	WHEN 1 THEN INTERVAL '30 seconds'
	WHEN 2 THEN INTERVAL '2 minutes'
	WHEN 3 THEN INTERVAL '10 minutes'
	WHEN 4 THEN INTERVAL '1 hour'
	ELSE INTERVAL '6 hours'
	END`

// Enqueue inserts a pending entry and fills in the generated id and
// created_at. Callers that already have an id (idempotent re-enqueue) set it
// before calling; otherwise a fresh UUID is assigned.
func (r *EmailQueueRepository) Enqueue(ctx context.Context, e *types.EmailQueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO email_queue (id, recipient, subject, body_text, body_html, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING created_at`,
		e.ID, e.To, e.Subject, e.BodyText, e.BodyHTML, string(types.EmailStatusPending))
	err := row.Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate id: the entry already exists, nothing to do.
		return nil
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue email", err)
	}
	e.Status = types.EmailStatusPending
	return nil
}

// Claim atomically transitions up to limit eligible pending entries to
// status=sending and returns them, oldest first. An entry is eligible when
// its attempts are below the cap and its retry backoff has elapsed. FOR
// UPDATE SKIP LOCKED keeps concurrent drains from claiming the same rows.
//
// The attempt counter is incremented at claim time, so a worker that crashes
// mid-send still consumed an attempt.
func (r *EmailQueueRepository) Claim(ctx context.Context, limit int, now time.Time) ([]*types.EmailQueueEntry, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE email_queue SET
			status = $1,
			attempts = attempts + 1,
			last_attempt_at = $2
		 WHERE id IN (
			SELECT id FROM email_queue
			WHERE status = $3
			  AND attempts < $4
			  AND (last_attempt_at IS NULL
			       OR last_attempt_at <= $2::timestamptz - `+retryBackoffCase+`)
			ORDER BY created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+emailColumns,
		string(types.EmailStatusSending), now.UTC(), string(types.EmailStatusPending),
		types.MaxEmailAttempts, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim email queue entries", err)
	}
	defer rows.Close()

	var entries []*types.EmailQueueEntry
	for rows.Next() {
		e, scanErr := scanEmailEntry(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan email queue entry", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating email queue entries", err)
	}
	return entries, nil
}

// ClaimByID claims one specific pending entry for immediate delivery,
// incrementing its attempt counter. Returns false when the entry is not in
// pending state (already claimed by a concurrent drain, or terminal).
func (r *EmailQueueRepository) ClaimByID(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE email_queue SET
			status = $2,
			attempts = attempts + 1,
			last_attempt_at = $3
		 WHERE id = $1 AND status = $4 AND attempts < $5`,
		id, string(types.EmailStatusSending), now.UTC(),
		string(types.EmailStatusPending), types.MaxEmailAttempts)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim email queue entry", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSent finalizes a delivered entry.
func (r *EmailQueueRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_queue SET status = $2, sent_at = $3, error_message = ''
		 WHERE id = $1`,
		id, string(types.EmailStatusSent), at.UTC())
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark email sent", err)
	}
	return nil
}

// MarkRetry records a transient failure. The entry returns to pending for a
// later claim unless the attempt cap is reached, in which case it goes
// terminal in status=failed.
func (r *EmailQueueRepository) MarkRetry(ctx context.Context, id string, sendErr string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_queue SET
			status = CASE WHEN attempts >= $3 THEN $4 ELSE $5 END,
			error_message = $2
		 WHERE id = $1`,
		id, sendErr, types.MaxEmailAttempts,
		string(types.EmailStatusFailed), string(types.EmailStatusPending))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark email for retry", err)
	}
	return nil
}

// MarkFailed records a permanent failure. The entry is terminal regardless of
// remaining attempts; used for invalid recipients and other non-retryable
// rejections.
func (r *EmailQueueRepository) MarkFailed(ctx context.Context, id string, sendErr string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_queue SET status = $2, error_message = $3 WHERE id = $1`,
		id, string(types.EmailStatusFailed), sendErr)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark email failed", err)
	}
	return nil
}

// ReleaseClaim returns a claimed entry to pending and refunds the attempt
// consumed at claim time. Used when the circuit breaker parks a claim before
// any delivery was tried; a park that never touched the transport must not
// burn one of the entry's attempts.
func (r *EmailQueueRepository) ReleaseClaim(ctx context.Context, id string, note string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE email_queue SET
			status = $2,
			attempts = GREATEST(attempts - 1, 0),
			error_message = $3
		 WHERE id = $1 AND status = $4`,
		id, string(types.EmailStatusPending), note, string(types.EmailStatusSending))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release email queue claim", err)
	}
	return nil
}

// ReleaseStale returns entries stuck in status=sending longer than maxAge to
// pending. A row can be orphaned in sending when a worker dies between claim
// and completion; maintenance sweeps them back. Returns the number released.
func (r *EmailQueueRepository) ReleaseStale(ctx context.Context, maxAge time.Duration, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE email_queue SET status = $1
		 WHERE status = $2 AND last_attempt_at < $3`,
		string(types.EmailStatusPending), string(types.EmailStatusSending),
		now.UTC().Add(-maxAge))
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to release stale email queue entries", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns entry counts keyed by status, for the heartbeat
// metric and the operator CLI.
func (r *EmailQueueRepository) CountByStatus(ctx context.Context) (map[types.EmailStatus]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count email queue entries", err)
	}
	defer rows.Close()

	counts := make(map[types.EmailStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan email queue count", err)
		}
		counts[types.EmailStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating email queue counts", err)
	}
	return counts, nil
}

func scanEmailEntry(row pgx.Row) (*types.EmailQueueEntry, error) {
	var (
		e      types.EmailQueueEntry
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.To,
		&e.Subject,
		&e.BodyText,
		&e.BodyHTML,
		&status,
		&e.Attempts,
		&e.CreatedAt,
		&e.LastAttemptAt,
		&e.SentAt,
		&e.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	e.Status = types.EmailStatus(status)
	return &e, nil
}
