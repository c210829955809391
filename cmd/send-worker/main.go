// Package main is the entrypoint for the Send Worker Lambda function.
//
// The Send Worker consumes SendMessage batches from the send SQS queue. Each
// message identifies one reminder email to compose, persist in the durable
// email queue, and submit over SMTP behind the shared circuit breaker.
//
// Infrastructure failures (database unreachable, enqueue failed) are
// reported as partial batch failures so SQS redelivers only the affected
// messages. Delivery failures are NOT batch failures: once the entry is in
// the durable queue it carries its own retry schedule and the scheduled
// drain picks it up.
//
// This file handles dependency wiring (Cold Start) and delegates all
// business logic to internal/email.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"companion/internal/clock"
	"companion/internal/config"
	"companion/internal/db"
	"companion/internal/email"
	"companion/internal/types"
)

// Handler holds the dependencies for the send worker Lambda handler.
type Handler struct {
	sender *email.Sender
	logger *slog.Logger
}

// Handle processes an SQS event of send messages with partial batch
// responses: failed messages are returned in batchItemFailures so SQS
// retries only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		var msg types.SendMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.ErrorContext(ctx, "failed to unmarshal send message",
				"message_id", record.MessageId,
				"error", err,
			)
			// Permanent parse failure; redelivery cannot fix it.
			continue
		}

		if err := h.sender.HandleSend(ctx, msg); err != nil {
			h.logger.ErrorContext(ctx, "failed to process send message",
				"message_id", record.MessageId,
				"reminder_id", msg.ReminderID,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("send worker initializing (cold start)", "environment", cfg.Environment)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	clk := clock.SystemClock{}
	handler := &Handler{
		sender: &email.Sender{
			Log:        logger,
			Queue:      db.NewEmailQueueRepository(pool),
			Recipients: db.NewClientRepository(pool),
			Reminders:  db.NewReminderRepository(pool),
			Composer: &email.Composer{
				AppBaseURL: cfg.Server.AppBaseURL,
				FromName:   cfg.Email.FromName,
			},
			Transport: email.NewSMTPTransport(cfg.Email),
			Breaker: &email.Breaker{
				Service: types.BreakerEmail,
				Store:   db.NewBreakerRepository(pool),
				Clock:   clk,
				Log:     logger,
			},
			Clock: clk,
		},
		logger: logger,
	}

	logger.Info("send worker initialized",
		"smtp_server", cfg.Email.SMTPServer,
		"from", cfg.Email.SystemEmail,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	if cfg.Environment == "local" {
		runLocal(ctx, handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads one SQS event from stdin and processes it.
func runLocal(ctx context.Context, handler *Handler, logger *slog.Logger) {
	logger.Info("APP_ENV=local: reading SQS event from stdin")
	payload, err := io.ReadAll(os.Stdin)
	if err != nil || len(payload) == 0 {
		logger.Error("failed to read SQS event from stdin", "error", err)
		os.Exit(1)
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("failed to parse stdin as SQS event", "error", err)
		os.Exit(1)
	}

	response, err := handler.Handle(ctx, sqsEvent)
	if err != nil {
		logger.Error("handler execution failed", "error", err)
		os.Exit(1)
	}
	if len(response.BatchItemFailures) > 0 {
		out, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(out))
		os.Exit(1)
	}
	logger.Info("handler execution completed", "records_processed", len(sqsEvent.Records))
}

// newLogger creates a structured slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
