package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"companion/internal/clock"
	"companion/internal/types"
)

// QueueStore is the durable email queue surface the sender needs.
// Satisfied by db.EmailQueueRepository.
type QueueStore interface {
	Enqueue(ctx context.Context, e *types.EmailQueueEntry) error
	ClaimByID(ctx context.Context, id string, now time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string, note string) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, sendErr string) error
	MarkFailed(ctx context.Context, id string, sendErr string) error
}

// RecipientStore resolves clients and records invalid addresses.
// Satisfied by db.ClientRepository.
type RecipientStore interface {
	Get(ctx context.Context, clientID int64) (*types.Client, error)
	MarkEmailInvalidByAddress(ctx context.Context, email string) error
}

// ReminderReader fetches the reminder a send message refers to.
// Satisfied by db.ReminderRepository.
type ReminderReader interface {
	Get(ctx context.Context, id int64) (*types.Reminder, error)
}

// BreakerGate is the durable breaker surface. Satisfied by *Breaker.
type BreakerGate interface {
	Allow(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
}

// Sender consumes send messages: compose, enqueue durably, then deliver with
// bounded in-process retries behind the shared breaker. Once the entry is in
// the queue the message is considered handled; delivery failures park the
// entry for the scheduled drain instead of bouncing the queue message.
type Sender struct {
	Log        *slog.Logger
	Queue      QueueStore
	Recipients RecipientStore
	Reminders  ReminderReader
	Composer   *Composer
	Transport  Transport
	Breaker    BreakerGate
	Clock      clock.Clock

	// Policy defaults to SendRetryPolicy when zero.
	Policy RetryPolicy

	// SleepFn defaults to time.Sleep; tests override it.
	SleepFn func(time.Duration)
}

// HandleSend processes one queue message end to end.
func (s *Sender) HandleSend(ctx context.Context, msg types.SendMessage) error {
	log := s.Log.With("trace_id", msg.TraceID, "reminder_id", msg.ReminderID, "client_id", msg.ClientID)

	rem, err := s.Reminders.Get(ctx, msg.ReminderID)
	if err != nil {
		return err
	}
	if rem == nil || !rem.IsActive {
		log.InfoContext(ctx, "send skipped, reminder gone or inactive")
		return nil
	}

	client, err := s.Recipients.Get(ctx, msg.ClientID)
	if err != nil {
		return err
	}
	if client == nil || !client.Eligible() {
		log.InfoContext(ctx, "send skipped, client missing or ineligible")
		return nil
	}

	composed, err := s.Composer.Compose(rem.Language.OrDefault())
	if err != nil {
		return err
	}

	entry := &types.EmailQueueEntry{
		To:       client.Email,
		Subject:  composed.Subject,
		BodyText: composed.BodyText,
		BodyHTML: composed.BodyHTML,
	}
	if err := s.Queue.Enqueue(ctx, entry); err != nil {
		return err
	}

	// An open breaker leaves the entry pending with its attempts untouched;
	// the scheduled drain picks it up once the cooldown has passed.
	allowed, err := s.Breaker.Allow(ctx)
	if err != nil {
		return err
	}
	if !allowed {
		log.WarnContext(ctx, "delivery deferred, circuit breaker open", "entry_id", entry.ID)
		return nil
	}

	claimed, err := s.Queue.ClaimByID(ctx, entry.ID, s.Clock.NowUTC())
	if err != nil {
		return err
	}
	if !claimed {
		// A concurrent drain got there first; it owns delivery now.
		log.InfoContext(ctx, "entry claimed elsewhere", "entry_id", entry.ID)
		return nil
	}

	return s.DeliverEntry(ctx, entry)
}

// DeliverEntry attempts delivery of a claimed entry, retrying transient
// failures in-process per the retry policy. The returned error covers
// infrastructure failures only; delivery failures are recorded on the entry
// and reported as nil so the caller does not re-drive a durably parked email.
func (s *Sender) DeliverEntry(ctx context.Context, entry *types.EmailQueueEntry) error {
	log := s.Log.With("entry_id", entry.ID)
	policy := s.Policy
	if policy.MaxAttempts == 0 {
		policy = SendRetryPolicy
	}
	sleep := s.SleepFn
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			sleep(CalculateNextRetry(policy, attempt-1))
		}

		allowed, err := s.Breaker.Allow(ctx)
		if err != nil {
			return err
		}
		if !allowed {
			log.WarnContext(ctx, "delivery parked, circuit breaker open")
			if attempt == 0 {
				// The transport was never touched under this claim, so the
				// attempt consumed at claim time is refunded.
				return s.Queue.ReleaseClaim(ctx, entry.ID, "circuit breaker open")
			}
			return s.Queue.MarkRetry(ctx, entry.ID, "circuit breaker open")
		}

		outcome, sendErr := s.Transport.Send(ctx, entry)
		switch outcome {
		case types.SendOK:
			if err := s.Breaker.RecordSuccess(ctx); err != nil {
				log.WarnContext(ctx, "failed to record breaker success", "error", err)
			}
			if err := s.Queue.MarkSent(ctx, entry.ID, s.Clock.NowUTC()); err != nil {
				return err
			}
			log.InfoContext(ctx, "email sent", "attempts_in_process", attempt+1)
			return nil

		case types.SendPermanent:
			log.WarnContext(ctx, "permanent delivery failure, invalidating recipient",
				"error", sendErr)
			if err := s.Queue.MarkFailed(ctx, entry.ID, sendErr.Error()); err != nil {
				return err
			}
			if err := s.Recipients.MarkEmailInvalidByAddress(ctx, entry.To); err != nil {
				return err
			}
			return nil

		default:
			lastErr = sendErr
			log.WarnContext(ctx, "transient delivery failure",
				"attempt", attempt+1,
				"error", sendErr,
			)
			if err := s.Breaker.RecordFailure(ctx); err != nil {
				log.WarnContext(ctx, "failed to record breaker failure", "error", err)
			}
		}
	}

	msg := "transient failure"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	log.ErrorContext(ctx, "delivery attempts exhausted, parking entry", "error", msg)
	return s.Queue.MarkRetry(ctx, entry.ID, fmt.Sprintf("attempts exhausted: %s", msg))
}
