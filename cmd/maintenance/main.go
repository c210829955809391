// Package main is the entrypoint for the Maintenance Lambda function.
//
// Maintenance fires on a daily EventBridge schedule and runs three passes:
//
//  1. MaintenanceService: purge old sessions, reset stale breaker rows,
//     release stuck sending entries, repair reminder rows.
//  2. Queue drain: claim pending email entries whose backoff has elapsed and
//     re-deliver them.
//  3. Queue depth heartbeat to CloudWatch.
//
// Each pass is independent; a failing pass is reported without stopping the
// others, and the invocation fails if any pass failed so the run shows up in
// operator alarms.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"companion/internal/clock"
	"companion/internal/config"
	"companion/internal/db"
	"companion/internal/email"
	"companion/internal/metrics"
	"companion/internal/scheduler"
	"companion/internal/types"
)

// Runner bundles the three maintenance passes.
type Runner struct {
	service   *scheduler.MaintenanceService
	processor *email.Processor
	queue     *db.EmailQueueRepository
	metrics   *metrics.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// Run executes all passes and joins their errors.
func (r *Runner) Run(ctx context.Context) error {
	now := r.clock.NowUTC()
	var errs []error

	result, err := r.service.Run(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("maintenance pass: %w", err))
	}
	if result != nil {
		r.logger.InfoContext(ctx, "maintenance pass complete",
			"sessions_purged", result.SessionsPurged,
			"breakers_reset", result.BreakersReset,
			"entries_released", result.EntriesReleased,
			"duplicates_pruned", result.DuplicatesPruned,
		)
	}

	drained, err := r.processor.Drain(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("queue drain: %w", err))
	} else {
		r.logger.InfoContext(ctx, "queue drain complete",
			"claimed", drained.Claimed,
			"handled", drained.Handled,
			"errors", drained.Errors,
		)
	}

	counts, err := r.queue.CountByStatus(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("queue depth: %w", err))
	} else if err := r.metrics.PublishQueueDepth(ctx, counts); err != nil {
		r.logger.WarnContext(ctx, "failed to publish queue depth", "error", err)
	}

	return errors.Join(errs...)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("maintenance initializing (cold start)", "environment", cfg.Environment)

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

	clk := clock.SystemClock{}
	queueRepo := db.NewEmailQueueRepository(pool)
	reminderRepo := db.NewReminderRepository(pool)
	clientRepo := db.NewClientRepository(pool)

	breaker := &email.Breaker{
		Service: types.BreakerEmail,
		Store:   db.NewBreakerRepository(pool),
		Clock:   clk,
		Log:     logger,
	}
	sender := &email.Sender{
		Log:        logger,
		Queue:      queueRepo,
		Recipients: clientRepo,
		Reminders:  reminderRepo,
		Composer: &email.Composer{
			AppBaseURL: cfg.Server.AppBaseURL,
			FromName:   cfg.Email.FromName,
		},
		Transport: email.NewSMTPTransport(cfg.Email),
		Breaker:   breaker,
		Clock:     clk,
	}

	runner := &Runner{
		service: &scheduler.MaintenanceService{
			Log:       logger,
			Sessions:  db.NewSessionRepository(pool),
			Breakers:  db.NewBreakerRepository(pool),
			Queue:     queueRepo,
			Reminders: reminderRepo,
		},
		processor: &email.Processor{
			Log:     logger,
			Queue:   queueRepo,
			Sender:  sender,
			Breaker: breaker,
			Clock:   clk,
			Limit:   cfg.Dispatch.QueueDrainLimit,
			Workers: cfg.Dispatch.QueueDrainWorkers,
		},
		queue:   queueRepo,
		metrics: metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace, logger),
		clock:   clk,
		logger:  logger,
	}

	logger.Info("maintenance initialized",
		"drain_limit", cfg.Dispatch.QueueDrainLimit,
		"drain_workers", cfg.Dispatch.QueueDrainWorkers,
	)

	// Local mode: run one maintenance pass directly.
	if cfg.Environment == "local" {
		if err := runner.Run(ctx); err != nil {
			out, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintln(os.Stderr, string(out))
			os.Exit(1)
		}
		return
	}

	lambda.Start(runner.Run)
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
