// Package main is the entrypoint for the Dispatcher Lambda function.
//
// The Dispatcher fires on an EventBridge schedule aligned to the dispatch
// window grid. Each invocation runs exactly one tick: it computes the
// current window, queries the reminders due in it, and fans them out to the
// chunk queue in fixed-size batches.
//
// This file handles dependency wiring (Cold Start) and delegates all
// business logic to internal/dispatch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

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
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("dispatcher initializing (cold start)", "environment", cfg.Environment)

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

	dispatcher := &dispatch.Dispatcher{
		Config:    cfg.Dispatch,
		Log:       logger,
		Reminders: db.NewReminderRepository(pool),
		Publisher: queue.NewPublisher(sqsClient, cfg.Queue, logger),
		Metrics:   metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, logger),
		Clock:     clock.SystemClock{},
	}

	logger.Info("dispatcher initialized",
		"window_minutes", cfg.Dispatch.WindowMinutes,
		"chunk_size", cfg.Dispatch.ChunkSize,
	)

	handler := func(ctx context.Context) error {
		result, err := dispatcher.Tick(ctx)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "tick complete",
			"tick_id", result.TickID,
			"due", result.Due,
			"chunks", result.Chunks,
		)
		return nil
	}

	// Local mode: run a single tick directly instead of starting the Lambda
	// runtime, and print the result for inspection.
	if cfg.Environment == "local" {
		result, err := dispatcher.Tick(ctx)
		if err != nil {
			logger.Error("tick failed", "error", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return
	}

	lambda.Start(handler)
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
