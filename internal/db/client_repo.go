package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"companion/internal/types"
)

// ClientRepository reads the client/user projection the delivery pipeline
// needs. The web layer owns the full records; this repository only touches
// the columns the pipeline consumes, plus the email_valid flag it writes
// back on permanent delivery failures.
type ClientRepository struct {
	db DBTX
}

// NewClientRepository creates a ClientRepository backed by the given database
// connection (pool or transaction).
func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

// Get fetches the delivery projection for a client, joining the owning user
// for the email address. Returns (nil, nil) when the client does not exist.
func (r *ClientRepository) Get(ctx context.Context, clientID int64) (*types.Client, error) {
	row := r.db.QueryRow(ctx,
		`SELECT c.id, c.client_serial, c.is_active, u.email, u.email_valid,
		        c.language, c.timezone_offset_minutes
		 FROM clients c
		 JOIN users u ON u.id = c.user_id
		 WHERE c.id = $1`, clientID)

	var (
		c    types.Client
		lang string
	)
	err := row.Scan(&c.ID, &c.ClientSerial, &c.IsActive, &c.Email, &c.EmailValid,
		&lang, &c.TimezoneOffsetMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get client", err)
	}
	c.Language = types.Language(lang)
	return &c, nil
}

// Exists reports whether a client row exists, without pulling the projection.
// The API layer uses it to distinguish 404 from validation errors.
func (r *ClientRepository) Exists(ctx context.Context, clientID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1)`, clientID).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check client existence", err)
	}
	return exists, nil
}

// HasCheckinOn reports whether the client already recorded a check-in for the
// given local calendar date. localDate must be a midnight-UTC timestamp whose
// date component is the client's local date.
func (r *ClientRepository) HasCheckinOn(ctx context.Context, clientID int64, localDate time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM daily_checkins
			WHERE client_id = $1 AND checkin_date = $2::date
		 )`, clientID, localDate.UTC()).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check for existing check-in", err)
	}
	return exists, nil
}

// MarkEmailInvalidByAddress flags every user holding the given address as
// undeliverable. Used by the queue drain, which only knows the recipient
// address on the claimed entry. Zero matched rows is not an error: the user
// may have changed address or been deleted since the entry was enqueued.
func (r *ClientRepository) MarkEmailInvalidByAddress(ctx context.Context, email string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET email_valid = FALSE WHERE email = $1`, email)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark email address invalid", err)
	}
	return nil
}
