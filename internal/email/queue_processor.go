package email

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"companion/internal/clock"
	"companion/internal/types"
)

// ClaimStore claims batches of eligible pending entries.
// Satisfied by db.EmailQueueRepository.
type ClaimStore interface {
	Claim(ctx context.Context, limit int, now time.Time) ([]*types.EmailQueueEntry, error)
}

// EntryDeliverer delivers one already-claimed entry. Satisfied by *Sender.
type EntryDeliverer interface {
	DeliverEntry(ctx context.Context, entry *types.EmailQueueEntry) error
}

// SendGate reports whether sends may proceed. Satisfied by *Breaker.
type SendGate interface {
	Allow(ctx context.Context) (bool, error)
}

// DrainResult summarizes one queue drain pass. Handled counts entries that
// reached a recorded outcome (sent, parked for retry, or failed terminal);
// Errors counts infrastructure failures where even recording the outcome
// did not succeed.
type DrainResult struct {
	Claimed int `json:"claimed"`
	Handled int `json:"handled"`
	Errors  int `json:"errors"`
}

// Processor drains the durable email queue: entries left pending by crashed
// or breaker-blocked workers are claimed in a batch and re-delivered with
// bounded concurrency.
type Processor struct {
	Log     *slog.Logger
	Queue   ClaimStore
	Sender  EntryDeliverer
	Breaker SendGate
	Clock   clock.Clock
	Limit   int
	Workers int
}

// Drain claims one batch and delivers it. Per-entry failures are counted,
// not propagated: each failed entry is already parked in the queue with its
// own retry schedule. An open breaker skips the pass entirely so entries
// keep their attempts for when the downstream recovers.
func (p *Processor) Drain(ctx context.Context) (DrainResult, error) {
	allowed, err := p.Breaker.Allow(ctx)
	if err != nil {
		return DrainResult{}, err
	}
	if !allowed {
		p.Log.WarnContext(ctx, "queue drain skipped, circuit breaker open")
		return DrainResult{}, nil
	}

	entries, err := p.Queue.Claim(ctx, p.Limit, p.Clock.NowUTC())
	if err != nil {
		return DrainResult{}, err
	}

	result := DrainResult{Claimed: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	var handled, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for _, entry := range entries {
		g.Go(func() error {
			if err := p.Sender.DeliverEntry(gctx, entry); err != nil {
				failed.Add(1)
				p.Log.ErrorContext(gctx, "queue drain delivery failed",
					"entry_id", entry.ID,
					"error", err,
				)
				return nil
			}
			handled.Add(1)
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = g.Wait()

	result.Handled = int(handled.Load())
	result.Errors = int(failed.Load())

	p.Log.InfoContext(ctx, "email queue drained",
		"claimed", result.Claimed,
		"handled", result.Handled,
		"errors", result.Errors,
	)
	return result, nil
}
