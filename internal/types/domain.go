package types

import (
	"time"
)

// Reminder is a client's standing schedule for a daily check-in nudge.
//
// Both the UTC time-of-day and the raw local HH:MM the client entered are
// persisted. The UTC form drives dispatch; the local form survives offset
// drift and lets the maintenance repair routine recompute UTC when a stale
// offset is detected.
type Reminder struct {
	ID       int64        `json:"id" db:"id"`
	ClientID int64        `json:"client_id" db:"client_id"`
	Type     ReminderType `json:"type" db:"type"`

	// ReminderTimeUTC is the dispatch time-of-day in minutes after UTC
	// midnight [0, 1440).
	ReminderTimeUTC int `json:"-" db:"reminder_time_utc"`

	// LocalReminderTime is the HH:MM the client entered, in minutes after
	// local midnight. Nil for legacy rows created before the column existed;
	// maintenance backfills it from the UTC time and offset.
	LocalReminderTime *int `json:"-" db:"local_reminder_time"`

	// TimezoneOffsetMinutes follows the browser convention: minutes to ADD to
	// local time to reach UTC, so positive values mean west of UTC
	// (Los Angeles +420) and negative values east (Jerusalem -180).
	TimezoneOffsetMinutes int `json:"timezone_offset_minutes" db:"timezone_offset_minutes"`

	Language Language   `json:"language" db:"language"`
	IsActive bool       `json:"is_active" db:"is_active"`
	LastSent *time.Time `json:"last_sent,omitempty" db:"last_sent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SentToday reports whether the reminder was already delivered on the UTC
// calendar date of now.
func (r *Reminder) SentToday(now time.Time) bool {
	if r.LastSent == nil {
		return false
	}
	y1, m1, d1 := r.LastSent.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// CircuitBreakerState is the persisted breaker row for a downstream service.
// It lives in the database so the breaker survives worker restarts and is
// shared across all workers.
type CircuitBreakerState struct {
	Service         BreakerService `db:"service"`
	FailureCount    int            `db:"failure_count"`
	LastFailureTime *time.Time     `db:"last_failure_time"`
	IsOpen          bool           `db:"is_open"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// EmailQueueEntry is a durable outbound email. Every email transits the queue
// so that sends survive worker crashes and can be retried on a schedule.
type EmailQueueEntry struct {
	ID       string      `db:"id"`
	To       string      `db:"recipient"`
	Subject  string      `db:"subject"`
	BodyText string      `db:"body_text"`
	BodyHTML string      `db:"body_html"`
	Status   EmailStatus `db:"status"`
	Attempts int         `db:"attempts"`

	CreatedAt     time.Time  `db:"created_at"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	SentAt        *time.Time `db:"sent_at"`
	ErrorMessage  string     `db:"error_message"`
}

// MaxEmailAttempts caps delivery attempts for a queue entry. After the cap is
// reached the entry is terminal in status=failed for operator triage.
const MaxEmailAttempts = 5

// Client is the projection of the external clients/users tables the pipeline
// reads. The web layer owns the full records.
type Client struct {
	ID           int64    `db:"id"`
	ClientSerial string   `db:"client_serial"`
	IsActive     bool     `db:"is_active"`
	Email        string   `db:"email"`
	EmailValid   bool     `db:"email_valid"`
	Language     Language `db:"language"`

	// TimezoneOffsetMinutes is the client's last surfaced browser offset,
	// used to resolve the client's local date for check-in lookups.
	TimezoneOffsetMinutes int `db:"timezone_offset_minutes"`
}

// Eligible reports whether the client can receive reminder email at all.
func (c *Client) Eligible() bool {
	return c.IsActive && c.Email != "" && c.EmailValid
}

// ChunkResult is the observability summary a chunk worker returns.
type ChunkResult struct {
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	ChunkSize int `json:"chunk_size"`
}

// TickResult summarizes one dispatcher tick.
type TickResult struct {
	TickID      string    `json:"tick_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Due         int       `json:"due"`
	Chunks      int       `json:"chunks"`
}
