package dispatch

import (
	"context"
	"log/slog"
	"time"

	"companion/internal/clock"
	"companion/internal/types"
)

// ReminderTx is a transaction-scoped view of the reminder store. The row
// lock taken by GetForUpdate holds until Commit or Rollback, serializing
// concurrent workers on the same reminder.
type ReminderTx interface {
	GetForUpdate(ctx context.Context, id int64) (*types.Reminder, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReminderTxStore opens reminder transactions. Satisfied by the pgx adapter
// in store.go.
type ReminderTxStore interface {
	Begin(ctx context.Context) (ReminderTx, error)
}

// ClientSource resolves the client projection and check-in status.
// Satisfied by db.ClientRepository.
type ClientSource interface {
	Get(ctx context.Context, clientID int64) (*types.Client, error)
	HasCheckinOn(ctx context.Context, clientID int64, localDate time.Time) (bool, error)
}

// SendPublisher hands a single reminder delivery to the send queue.
// Satisfied by queue.Publisher.
type SendPublisher interface {
	PublishSend(ctx context.Context, msg types.SendMessage) error
}

// ChunkWorker consumes one ChunkMessage: for each reminder id it re-reads
// the row under lock, re-checks eligibility, records last_sent, and only
// then enqueues the actual send. Each reminder runs in its own transaction
// so one bad row never poisons the rest of the chunk.
type ChunkWorker struct {
	Log       *slog.Logger
	Store     ReminderTxStore
	Clients   ClientSource
	Publisher SendPublisher
	Clock     clock.Clock
}

// Process walks the chunk and returns a summary. Individual reminder
// failures are counted and logged, never returned: the chunk is best-effort
// and a failed reminder stays due for the next tick.
func (w *ChunkWorker) Process(ctx context.Context, msg types.ChunkMessage) types.ChunkResult {
	now := w.Clock.NowUTC()
	log := w.Log.With("tick_id", msg.TickID, "trace_id", msg.TraceID, "chunk", msg.Chunk)

	result := types.ChunkResult{ChunkSize: len(msg.ReminderIDs)}

	for _, id := range msg.ReminderIDs {
		outcome, err := w.processReminder(ctx, log, msg.TraceID, id, now)
		switch {
		case err != nil:
			result.Errors++
			log.ErrorContext(ctx, "reminder processing failed",
				"reminder_id", id,
				"error", err,
			)
		case outcome == "":
			result.Sent++
		default:
			result.Skipped++
			log.InfoContext(ctx, "reminder skipped",
				"reminder_id", id,
				"reason", outcome,
			)
		}
	}

	log.InfoContext(ctx, "chunk processed",
		"sent", result.Sent,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"chunk_size", result.ChunkSize,
	)
	return result
}

// processReminder handles one reminder inside its own transaction. It
// returns a non-empty skip reason for business skips and an error for
// infrastructure failures. An empty reason with nil error means the send
// was enqueued.
//
// last_sent is committed before the send message is published. If the
// publish then fails, the reminder is not retried until the next day; the
// reverse ordering would instead risk duplicate emails, which is the worse
// failure for this product.
func (w *ChunkWorker) processReminder(ctx context.Context, log *slog.Logger, traceID string, id int64, now time.Time) (skipReason string, err error) {
	tx, err := w.Store.Begin(ctx)
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.WarnContext(ctx, "rollback failed", "reminder_id", id, "error", rbErr)
			}
		}
	}()

	rem, err := tx.GetForUpdate(ctx, id)
	if err != nil {
		return "", err
	}
	if rem == nil {
		return "reminder_missing", nil
	}
	if !rem.IsActive {
		return "reminder_inactive", nil
	}
	if rem.SentToday(now) {
		return "already_sent_today", nil
	}

	client, err := w.Clients.Get(ctx, rem.ClientID)
	if err != nil {
		return "", err
	}
	if client == nil {
		return "client_missing", nil
	}
	if !client.Eligible() {
		return "client_ineligible", nil
	}

	localDate := clock.LocalDate(now, client.TimezoneOffsetMinutes)
	done, err := w.Clients.HasCheckinOn(ctx, client.ID, localDate)
	if err != nil {
		return "", err
	}
	if done {
		// Still record last_sent: the client already checked in today, so no
		// email goes out, but a later tick or a redelivered chunk must not
		// keep re-processing this reminder for the rest of the day.
		if err := tx.MarkSent(ctx, id, now); err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", err
		}
		committed = true
		return "checkin_already_done", nil
	}

	if err := tx.MarkSent(ctx, id, now); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	committed = true

	sendMsg := types.SendMessage{
		TraceID:    traceID,
		ClientID:   client.ID,
		ReminderID: id,
	}
	if err := w.Publisher.PublishSend(ctx, sendMsg); err != nil {
		// last_sent is already committed; the email for today is lost rather
		// than duplicated. Surface loudly for operators.
		return "", err
	}
	return "", nil
}
