package db

import (
	"context"
	"fmt"
)

// schemaStatements is the ordered, idempotent DDL executed by init-db.
// Every statement can be re-run safely: tables and indices use IF NOT EXISTS
// and column additions use ADD COLUMN IF NOT EXISTS, so init-db doubles as a
// lightweight migration for older deployments missing newer columns.
var schemaStatements = []string{
	// External tables owned by the web layer. Created here so a fresh
	// environment is usable end to end; existing deployments are untouched.
	`CREATE TABLE IF NOT EXISTS users (
		id          BIGSERIAL PRIMARY KEY,
		email       TEXT NOT NULL,
		email_valid BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id            BIGSERIAL PRIMARY KEY,
		user_id       BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		client_serial TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		language      TEXT NOT NULL DEFAULT 'en',
		timezone_offset_minutes INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_checkins (
		id              BIGSERIAL PRIMARY KEY,
		client_id       BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		checkin_date    DATE NOT NULL,
		notes           TEXT,
		notes_encrypted BYTEA,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_daily_checkins_client_date
		ON daily_checkins (client_id, checkin_date)`,
	`CREATE TABLE IF NOT EXISTS session_tokens (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		token_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_tokens_created
		ON session_tokens (created_at)`,

	// Reminder pipeline tables.
	`CREATE TABLE IF NOT EXISTS reminders (
		id        BIGSERIAL PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		type      TEXT NOT NULL DEFAULT 'daily_checkin',
		reminder_time_utc SMALLINT NOT NULL,
		language  TEXT NOT NULL DEFAULT 'en',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_sent TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// Columns added after the initial deployment.
	`ALTER TABLE reminders ADD COLUMN IF NOT EXISTS local_reminder_time SMALLINT`,
	`ALTER TABLE reminders ADD COLUMN IF NOT EXISTS timezone_offset_minutes INTEGER NOT NULL DEFAULT 0`,
	// Single active reminder per (client, type).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_reminders_active_client_type
		ON reminders (client_id, type) WHERE is_active`,
	// Due-window scan: keeps due_in_window proportional to the due set.
	`CREATE INDEX IF NOT EXISTS idx_reminders_due
		ON reminders (type, is_active, reminder_time_utc)`,

	`CREATE TABLE IF NOT EXISTS email_queue (
		id         TEXT PRIMARY KEY,
		recipient  TEXT NOT NULL,
		subject    TEXT NOT NULL,
		body_text  TEXT NOT NULL DEFAULT '',
		body_html  TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'pending',
		attempts   INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_attempt_at TIMESTAMPTZ,
		sent_at    TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_pending
		ON email_queue (created_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_sending
		ON email_queue (last_attempt_at) WHERE status = 'sending'`,

	`CREATE TABLE IF NOT EXISTS circuit_breaker_state (
		service       TEXT PRIMARY KEY,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_failure_time TIMESTAMPTZ,
		is_open       BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// InitSchema applies the idempotent schema statements in order. It stops at
// the first failure so the operator sees exactly which statement broke.
func InitSchema(ctx context.Context, db DBTX) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: schema statement %d failed: %w", i+1, err)
		}
	}
	return nil
}
