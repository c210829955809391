// Package main is the entrypoint for the Chunk Worker Lambda function.
//
// The Chunk Worker consumes ChunkMessage batches from the chunk SQS queue.
// For each reminder id in a chunk it re-reads the row under lock, re-checks
// eligibility, records last_sent, and enqueues the actual send. Per-reminder
// failures are counted inside the chunk and never fail the SQS message: a
// failed reminder stays due and is retried on the next dispatcher tick,
// while redelivering the whole chunk would risk duplicate sends for the
// reminders that already committed.
//
// This file handles dependency wiring (Cold Start) and delegates all
// business logic to internal/dispatch.
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
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"companion/internal/clock"
	"companion/internal/config"
	"companion/internal/db"
	"companion/internal/dispatch"
	"companion/internal/metrics"
	"companion/internal/queue"
	"companion/internal/types"
)

// Handler holds the dependencies for the chunk worker Lambda handler.
type Handler struct {
	worker  *dispatch.ChunkWorker
	metrics *metrics.Publisher
	logger  *slog.Logger
}

// Handle processes an SQS event of chunk messages. Malformed bodies are
// acknowledged and dropped; redelivery cannot fix them.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	for _, record := range sqsEvent.Records {
		var msg types.ChunkMessage
		if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
			h.logger.ErrorContext(ctx, "failed to unmarshal chunk message",
				"message_id", record.MessageId,
				"error", err,
			)
			continue
		}

		result := h.worker.Process(ctx, msg)
		if err := h.metrics.PublishChunkResult(ctx, result); err != nil {
			h.logger.WarnContext(ctx, "failed to publish chunk metrics", "error", err)
		}
	}
	return events.SQSEventResponse{}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("chunk worker initializing (cold start)", "environment", cfg.Environment)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Queue.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Queue.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.Queue.EndpointURL)
		}
	})

	handler := &Handler{
		worker: &dispatch.ChunkWorker{
			Log:       logger,
			Store:     &dispatch.PgxReminderStore{DB: pool},
			Clients:   db.NewClientRepository(pool),
			Publisher: queue.NewPublisher(sqsClient, cfg.Queue, logger),
			Clock:     clock.SystemClock{},
		},
		metrics: metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, logger),
		logger:  logger,
	}

	logger.Info("chunk worker initialized")

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

	if _, err := handler.Handle(ctx, sqsEvent); err != nil {
		logger.Error("handler execution failed", "error", err)
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
