// Package main implements the adminctl CLI for Companion operational tasks.
//
// Usage:
//
//	go run ./cmd/ops/adminctl init-db
//	go run ./cmd/ops/adminctl migrate-encryption [--batch-size=100]
//	go run ./cmd/ops/adminctl dispatch-now [--at=2026-08-28T07:30:00Z]
//
// Commands:
//
//	init-db             Create the pipeline tables and indexes (idempotent).
//	migrate-encryption  Encrypt plaintext check-in notes in batches. Resumable:
//	                    each batch commits independently, so an interrupted run
//	                    picks up where it left off.
//	dispatch-now        Run one dispatcher tick synchronously and print the
//	                    chunk counts. --at overrides the evaluation time.
//
// All commands read configuration from the environment (or a .env file) and
// exit 0 on success, non-zero on any failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"companion/internal/clock"
	"companion/internal/config"
	"companion/internal/db"
	"companion/internal/dispatch"
	"companion/internal/queue"
	"companion/internal/securenote"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "init-db":
		err = runInitDB(ctx, pool, logger)
	case "migrate-encryption":
		err = runMigrateEncryption(ctx, pool, cfg, logger, os.Args[2:])
	case "dispatch-now":
		err = runDispatchNow(ctx, pool, cfg, logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: adminctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init-db             create pipeline tables and indexes")
	fmt.Fprintln(os.Stderr, "  migrate-encryption  encrypt plaintext check-in notes")
	fmt.Fprintln(os.Stderr, "  dispatch-now        run one dispatcher tick synchronously")
}

// runInitDB applies the pipeline schema. Safe to re-run: every statement is
// IF NOT EXISTS.
func runInitDB(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if err := db.InitSchema(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema initialized")
	return nil
}

// runMigrateEncryption encrypts plaintext check-in notes batch by batch until
// none remain. Each note commits independently so an interrupted run resumes
// from the remaining plaintext rows.
func runMigrateEncryption(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate-encryption", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 100, "notes to fetch per batch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cipher, err := securenote.NewCipher(cfg.Crypto.NoteEncryptionKey)
	if err != nil {
		return fmt.Errorf("NOTE_ENCRYPTION_KEY: %w", err)
	}

	repo := db.NewCheckinNoteRepository(pool)
	var migrated int64
	for {
		notes, err := repo.ListPlaintext(ctx, *batchSize)
		if err != nil {
			return err
		}
		if len(notes) == 0 {
			break
		}

		for _, note := range notes {
			ciphertext, err := cipher.Seal(note.Notes)
			if err != nil {
				return fmt.Errorf("encrypt note %d: %w", note.ID, err)
			}
			if err := repo.StoreEncrypted(ctx, note.ID, ciphertext); err != nil {
				return fmt.Errorf("store note %d: %w", note.ID, err)
			}
			migrated++
		}
		logger.Info("batch migrated", "batch", len(notes), "total", migrated)
	}

	logger.Info("encryption migration complete", "notes_migrated", migrated)
	return nil
}

// runDispatchNow runs one dispatcher tick synchronously and prints the
// result. The tick publishes real chunk messages; use it to nudge a window
// whose scheduled tick failed.
func runDispatchNow(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("dispatch-now", flag.ExitOnError)
	atFlag := fs.String("at", "", "evaluate the window containing this RFC3339 time (default: now)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var clk clock.Clock = clock.SystemClock{}
	if *atFlag != "" {
		at, err := time.Parse(time.RFC3339, *atFlag)
		if err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		clk = clock.FixedClock{Instant: at}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Queue.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
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
		Clock:     clk,
	}

	result, err := dispatcher.Tick(ctx)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	return nil
}
