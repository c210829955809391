package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"companion/internal/clock"
	"companion/internal/types"
)

// ReminderRepository provides data access for the reminders table.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a ReminderRepository backed by the given
// database connection (pool or transaction).
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, client_id, type, reminder_time_utc, local_reminder_time,
	timezone_offset_minutes, language, is_active, last_sent, created_at, updated_at`

// Upsert stores a client's reminder schedule, computing nothing itself: the
// caller supplies both the UTC and local minute-of-day forms. At most one
// active row per (client_id, type) is enforced by the partial unique index;
// upserting an existing active reminder updates it in place.
//
// A deactivating upsert cannot go through the index arbiter: an inserted
// is_active=false row never satisfies the partial-index predicate, so the
// ON CONFLICT clause would not fire and the active row would keep firing
// daily. Instead the newest existing row for the pair is updated directly,
// with a plain insert only when the client has no row at all.
func (r *ReminderRepository) Upsert(ctx context.Context, rem *types.Reminder) error {
	if !rem.IsActive {
		return r.upsertInactive(ctx, rem)
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO reminders
		 (client_id, type, reminder_time_utc, local_reminder_time,
		  timezone_offset_minutes, language, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		 ON CONFLICT (client_id, type) WHERE is_active DO UPDATE SET
			reminder_time_utc = EXCLUDED.reminder_time_utc,
			local_reminder_time = EXCLUDED.local_reminder_time,
			timezone_offset_minutes = EXCLUDED.timezone_offset_minutes,
			language = EXCLUDED.language,
			updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		rem.ClientID,
		string(rem.Type),
		rem.ReminderTimeUTC,
		rem.LocalReminderTime,
		rem.TimezoneOffsetMinutes,
		string(rem.Language.OrDefault()),
	)
	if err := row.Scan(&rem.ID, &rem.CreatedAt, &rem.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert reminder", err)
	}
	return nil
}

// upsertInactive switches a schedule off while recording the submitted
// times, updating the newest row for the (client, type) pair in place.
func (r *ReminderRepository) upsertInactive(ctx context.Context, rem *types.Reminder) error {
	row := r.db.QueryRow(ctx,
		`UPDATE reminders SET
			reminder_time_utc = $3,
			local_reminder_time = $4,
			timezone_offset_minutes = $5,
			language = $6,
			is_active = FALSE,
			updated_at = NOW()
		 WHERE id = (
			SELECT id FROM reminders
			WHERE client_id = $1 AND type = $2
			ORDER BY is_active DESC, id DESC
			LIMIT 1
		 )
		 RETURNING id, created_at, updated_at`,
		rem.ClientID,
		string(rem.Type),
		rem.ReminderTimeUTC,
		rem.LocalReminderTime,
		rem.TimezoneOffsetMinutes,
		string(rem.Language.OrDefault()),
	)
	err := row.Scan(&rem.ID, &rem.CreatedAt, &rem.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		row = r.db.QueryRow(ctx,
			`INSERT INTO reminders
			 (client_id, type, reminder_time_utc, local_reminder_time,
			  timezone_offset_minutes, language, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6, FALSE)
			 RETURNING id, created_at, updated_at`,
			rem.ClientID,
			string(rem.Type),
			rem.ReminderTimeUTC,
			rem.LocalReminderTime,
			rem.TimezoneOffsetMinutes,
			string(rem.Language.OrDefault()),
		)
		err = row.Scan(&rem.ID, &rem.CreatedAt, &rem.UpdatedAt)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate reminder", err)
	}
	return nil
}

// Get fetches a reminder by id. Returns (nil, nil) when the row is missing;
// a missing reminder is a business skip, not an error.
func (r *ReminderRepository) Get(ctx context.Context, id int64) (*types.Reminder, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	rem, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get reminder", err)
	}
	return rem, nil
}

// GetForUpdate fetches a reminder under a row-level lock. Run inside a
// transaction; the lock serializes last_sent checks so two chunk workers
// cannot both observe last_sent < today for the same reminder.
func (r *ReminderRepository) GetForUpdate(ctx context.Context, id int64) (*types.Reminder, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1 FOR UPDATE`, id)
	rem, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to lock reminder", err)
	}
	return rem, nil
}

// ListByClient returns all reminders for a client, active first.
func (r *ReminderRepository) ListByClient(ctx context.Context, clientID int64) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE client_id = $1
		 ORDER BY is_active DESC, type, id`, clientID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminders", err)
	}
	defer rows.Close()

	var results []*types.Reminder
	for rows.Next() {
		rem, scanErr := scanReminder(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder row", scanErr)
		}
		results = append(results, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder rows", err)
	}
	return results, nil
}

// DueInWindow returns active daily_checkin reminders whose UTC time-of-day
// falls in [start, end) and whose last_sent is null or strictly before the
// UTC calendar date of now. Windows that cross UTC midnight are split into
// two ranges.
//
// last_sent is compared against the UTC date, so a reminder scheduled near
// UTC midnight can be delivered once more across the date boundary. This is
// an accepted, documented behavior: at most one extra email per UTC-day
// boundary, deduped again by the chunk worker's row lock.
func (r *ReminderRepository) DueInWindow(ctx context.Context, start, end clock.MinuteOfDay, now time.Time) ([]*types.Reminder, error) {
	today := now.UTC().Truncate(24 * time.Hour)

	query := `SELECT ` + reminderColumns + ` FROM reminders
		 WHERE type = $1 AND is_active
		   AND reminder_time_utc >= $2 AND reminder_time_utc < $3
		   AND (last_sent IS NULL OR last_sent < $4)
		 ORDER BY reminder_time_utc, id`

	fetch := func(lo, hi clock.MinuteOfDay) ([]*types.Reminder, error) {
		rows, err := r.db.Query(ctx, query,
			string(types.ReminderDailyCheckin), int(lo), int(hi), today)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due reminders", err)
		}
		defer rows.Close()

		var results []*types.Reminder
		for rows.Next() {
			rem, scanErr := scanReminder(rows)
			if scanErr != nil {
				return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due reminder", scanErr)
			}
			results = append(results, rem)
		}
		if err := rows.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating due reminders", err)
		}
		return results, nil
	}

	if start <= end {
		return fetch(start, end)
	}

	// Window crosses UTC midnight: [start, 24:00) then [00:00, end).
	first, err := fetch(start, clock.MinutesPerDay)
	if err != nil {
		return nil, err
	}
	second, err := fetch(0, end)
	if err != nil {
		return nil, err
	}
	return append(first, second...), nil
}

// MarkSent records the delivery instant on the reminder.
func (r *ReminderRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders SET last_sent = $2, updated_at = NOW() WHERE id = $1`,
		id, at.UTC())
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
	}
	return nil
}

// Deactivate turns off all reminders of a type for a client, used when the
// web layer deactivates a client.
func (r *ReminderRepository) Deactivate(ctx context.Context, clientID int64, typ types.ReminderType) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reminders SET is_active = FALSE, updated_at = NOW()
		 WHERE client_id = $1 AND type = $2 AND is_active`,
		clientID, string(typ))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate reminders", err)
	}
	return nil
}

// --- Repair routines (maintenance) ---

// BackfillLocalTimes populates local_reminder_time on legacy rows from the
// stored UTC time and offset (local = utc - offset, mod one day).
// Returns the number of rows repaired.
func (r *ReminderRepository) BackfillLocalTimes(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET local_reminder_time =
			(((reminder_time_utc - timezone_offset_minutes) % 1440) + 1440) % 1440,
		     updated_at = NOW()
		 WHERE local_reminder_time IS NULL`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to backfill local reminder times", err)
	}
	return tag.RowsAffected(), nil
}

// RederiveUTCTimes recomputes reminder_time_utc wherever it contradicts the
// stored (local, offset) pair. The user-entered local time is the source of
// truth; a historical UTC value is never trusted on its own.
// Returns the number of rows corrected.
func (r *ReminderRepository) RederiveUTCTimes(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET reminder_time_utc =
			(((local_reminder_time + timezone_offset_minutes) % 1440) + 1440) % 1440,
		     updated_at = NOW()
		 WHERE local_reminder_time IS NOT NULL
		   AND reminder_time_utc <>
			(((local_reminder_time + timezone_offset_minutes) % 1440) + 1440) % 1440`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to re-derive reminder UTC times", err)
	}
	return tag.RowsAffected(), nil
}

// DedupeActive deletes duplicate active rows per (client_id, type), keeping
// the row with the highest id. Returns the number of rows deleted.
func (r *ReminderRepository) DedupeActive(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM reminders a
		 USING reminders b
		 WHERE a.client_id = b.client_id
		   AND a.type = b.type
		   AND a.is_active AND b.is_active
		   AND a.id < b.id`)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to dedupe active reminders", err)
	}
	return tag.RowsAffected(), nil
}

// scanReminder scans a reminder row from either pgx.Row or pgx.Rows.
func scanReminder(row pgx.Row) (*types.Reminder, error) {
	var (
		rem       types.Reminder
		typ       string
		lang      string
		localTime *int
		lastSent  *time.Time
	)
	err := row.Scan(
		&rem.ID,
		&rem.ClientID,
		&typ,
		&rem.ReminderTimeUTC,
		&localTime,
		&rem.TimezoneOffsetMinutes,
		&lang,
		&rem.IsActive,
		&lastSent,
		&rem.CreatedAt,
		&rem.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rem.Type = types.ReminderType(typ)
	rem.Language = types.Language(lang)
	rem.LocalReminderTime = localTime
	rem.LastSent = lastSent
	return &rem, nil
}
