package db

import (
	"context"
	"time"

	"companion/internal/types"
)

// SessionRepository owns maintenance access to the session_tokens table.
// Login/logout paths live in the web layer; the pipeline only purges.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a SessionRepository backed by the given
// database connection (pool or transaction).
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// DeleteOlderThan removes session tokens created before the cutoff and
// returns the number deleted.
func (r *SessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM session_tokens WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge session tokens", err)
	}
	return tag.RowsAffected(), nil
}
