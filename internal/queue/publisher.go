// Package queue provides SQS-based message producers for handing chunk and
// single-send work to downstream workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"companion/internal/config"
	"companion/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher serializes pipeline messages and sends them to the worker queues.
// Chunk messages fan out a dispatcher tick to chunk workers; send messages
// carry one reminder each to the send workers.
type Publisher struct {
	client        SQSSender
	chunkQueueURL string
	sendQueueURL  string
	logger        *slog.Logger
}

// NewPublisher creates a Publisher with the given SQS client and queue
// configuration.
func NewPublisher(client SQSSender, qcfg config.QueueConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:        client,
		chunkQueueURL: qcfg.ChunkQueueURL,
		sendQueueURL:  qcfg.SendQueueURL,
		logger:        logger,
	}
}

// PublishChunk enqueues one chunk of due reminder ids for a chunk worker.
func (p *Publisher) PublishChunk(ctx context.Context, msg types.ChunkMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ChunkMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.chunkQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"trace_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TraceID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send ChunkMessage to %s: %w", p.chunkQueueURL, err)
	}

	p.logger.InfoContext(ctx, "chunk message sent",
		"queue_url", p.chunkQueueURL,
		"tick_id", msg.TickID,
		"trace_id", msg.TraceID,
		"chunk", msg.Chunk,
		"total_chunks", msg.TotalChunks,
		"reminder_count", len(msg.ReminderIDs),
	)
	return nil
}

// PublishSend enqueues delivery of a single reminder for a send worker.
func (p *Publisher) PublishSend(ctx context.Context, msg types.SendMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal SendMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.sendQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"trace_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TraceID),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send SendMessage to %s: %w", p.sendQueueURL, err)
	}

	p.logger.InfoContext(ctx, "send message sent",
		"queue_url", p.sendQueueURL,
		"trace_id", msg.TraceID,
		"client_id", msg.ClientID,
		"reminder_id", msg.ReminderID,
	)
	return nil
}
