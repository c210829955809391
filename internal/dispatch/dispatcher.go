// Package dispatch implements the reminder delivery fan-out: the dispatcher
// tick that finds due reminders and chunks them onto the queue, and the chunk
// worker that re-validates each reminder and hands eligible ones to the send
// workers.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"companion/internal/clock"
	"companion/internal/config"
	"companion/internal/types"
)

// dueQueryAttempts is how many times a tick runs the due-reminder query
// before giving up: one initial attempt plus three retries. The next tick
// covers a fresh window, so a failed tick only delays the reminders in its
// window, never loses them: last_sent is untouched and they stay due.
const dueQueryAttempts = 4

// dueQueryBaseDelay is the initial backoff between due-query attempts,
// doubled on each retry.
const dueQueryBaseDelay = 1 * time.Second

// DueReminderSource yields the reminders due inside a minute-of-day window.
// Satisfied by db.ReminderRepository.
type DueReminderSource interface {
	DueInWindow(ctx context.Context, start, end clock.MinuteOfDay, now time.Time) ([]*types.Reminder, error)
}

// ChunkPublisher hands a chunk of due reminders to the worker queue.
// Satisfied by queue.Publisher.
type ChunkPublisher interface {
	PublishChunk(ctx context.Context, msg types.ChunkMessage) error
}

// TickMetrics receives the per-tick heartbeat. Satisfied by
// metrics.Publisher; may be nil to disable.
type TickMetrics interface {
	PublishTick(ctx context.Context, result types.TickResult) error
}

// Dispatcher runs one delivery tick: compute the current window on the tick
// grid, query the reminders due in it, and fan them out in fixed-size chunks.
type Dispatcher struct {
	Config    config.DispatchConfig
	Log       *slog.Logger
	Reminders DueReminderSource
	Publisher ChunkPublisher
	Metrics   TickMetrics
	Clock     clock.Clock

	// RetryBaseDelay overrides the initial due-query backoff; zero means
	// dueQueryBaseDelay. Tests shrink it to keep retries fast.
	RetryBaseDelay time.Duration
}

// Tick processes the window containing now. The window is aligned to the
// tick grid (WindowMinutes wide, starting at a multiple of WindowMinutes
// after UTC midnight) so that a tick fired at 07:31 still covers exactly
// [07:30, 08:00) and overlapping or late ticks resolve to the same window.
func (d *Dispatcher) Tick(ctx context.Context) (*types.TickResult, error) {
	now := d.Clock.NowUTC()
	width := d.Config.WindowMinutes

	minute := now.Hour()*60 + now.Minute()
	startMinute := (minute / width) * width
	endMinute := (startMinute + width) % clock.MinutesPerDay

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windowStart := dayStart.Add(time.Duration(startMinute) * time.Minute)
	windowEnd := windowStart.Add(time.Duration(width) * time.Minute)

	tickID := uuid.NewString()
	traceID := uuid.NewString()
	log := d.Log.With("tick_id", tickID, "trace_id", traceID)

	log.InfoContext(ctx, "dispatch tick started",
		"window_start", windowStart.Format(time.RFC3339),
		"window_end", windowEnd.Format(time.RFC3339),
	)

	due, err := d.queryDue(ctx, log, clock.MinuteOfDay(startMinute), clock.MinuteOfDay(endMinute), now)
	if err != nil {
		return nil, fmt.Errorf("dispatch: due query failed after %d attempts: %w", dueQueryAttempts, err)
	}

	result := &types.TickResult{
		TickID:      tickID,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Due:         len(due),
	}

	if len(due) == 0 {
		log.InfoContext(ctx, "dispatch tick complete, nothing due")
		d.publishHeartbeat(ctx, log, result)
		return result, nil
	}

	chunkSize := d.Config.ChunkSize
	totalChunks := (len(due) + chunkSize - 1) / chunkSize

	for i := 0; i < totalChunks; i++ {
		lo := i * chunkSize
		hi := lo + chunkSize
		if hi > len(due) {
			hi = len(due)
		}

		ids := make([]int64, 0, hi-lo)
		for _, rem := range due[lo:hi] {
			ids = append(ids, rem.ID)
		}

		msg := types.ChunkMessage{
			TickID:      tickID,
			TraceID:     traceID,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			ReminderIDs: ids,
			Chunk:       i + 1,
			TotalChunks: totalChunks,
		}
		if err := d.Publisher.PublishChunk(ctx, msg); err != nil {
			// Chunks already published will be processed; the failed remainder
			// stays due and is retried by a later tick.
			return result, fmt.Errorf("dispatch: failed to publish chunk %d/%d: %w", i+1, totalChunks, err)
		}
		result.Chunks++
	}

	log.InfoContext(ctx, "dispatch tick complete",
		"due", result.Due,
		"chunks", result.Chunks,
	)
	d.publishHeartbeat(ctx, log, result)
	return result, nil
}

// queryDue runs the due-reminder query with bounded exponential backoff.
func (d *Dispatcher) queryDue(ctx context.Context, log *slog.Logger, start, end clock.MinuteOfDay, now time.Time) ([]*types.Reminder, error) {
	var lastErr error
	delay := d.RetryBaseDelay
	if delay == 0 {
		delay = dueQueryBaseDelay
	}

	for attempt := 1; attempt <= dueQueryAttempts; attempt++ {
		due, err := d.Reminders.DueInWindow(ctx, start, end, now)
		if err == nil {
			return due, nil
		}
		lastErr = err
		log.WarnContext(ctx, "due reminder query failed",
			"attempt", attempt,
			"error", err,
		)

		if attempt == dueQueryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// publishHeartbeat emits the tick metric. Metric failures are logged and
// swallowed; observability must never fail a tick.
func (d *Dispatcher) publishHeartbeat(ctx context.Context, log *slog.Logger, result *types.TickResult) {
	if d.Metrics == nil {
		return
	}
	if err := d.Metrics.PublishTick(ctx, *result); err != nil {
		log.WarnContext(ctx, "failed to publish tick metrics", "error", err)
	}
}
