/**
 * Asynq Queue Consumer for the Document Extraction Worker
 *
 * Alternative to the list based RedisConsumer. Each S3 event record is a
 * "document:arrived" task; retries and backoff are handled by Asynq.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

// TaskDocumentArrived is the task type of an arrival
const TaskDocumentArrived = "document:arrived"

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.DocumentProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	Processor   processor.DocumentProcessorInterface
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("queue").With("queue", cfg.QueueName)

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(),
					"retry", retried,
					"max_retry", maxRetry,
					"error", err)
			}),
			Logger: &asynqLogger{logger: logger},
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		inspector: asynq.NewInspector(redisOpt),
		server:    server,
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}

	mux.HandleFunc(TaskDocumentArrived, consumer.handleDocumentArrived)

	return consumer, nil
}

func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n < 0 || n > 3 {
		return 60 * time.Second
	}

	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// NewArrivalTask builds the task for one event record
func NewArrivalTask(record S3EventRecord, maxRetries int) (*asynq.Task, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event record: %w", err)
	}

	return asynq.NewTask(TaskDocumentArrived, payload, asynq.MaxRetry(maxRetries)), nil
}

// Enqueue submits one task per event record and returns the task ids
func (c *Consumer) Enqueue(ctx context.Context, event *S3EventNotification) ([]string, error) {
	if event == nil || len(event.Records) == 0 {
		return nil, fmt.Errorf("event has no records")
	}

	ids := make([]string, 0, len(event.Records))

	for _, record := range event.Records {
		task, err := NewArrivalTask(record, c.config.MaxRetries)
		if err != nil {
			return ids, err
		}

		info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(c.config.QueueName))
		if err != nil {
			return ids, fmt.Errorf("failed to enqueue task: %w", err)
		}

		ids = append(ids, info.ID)
	}

	return ids, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer", "concurrency", c.config.Concurrency)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")

	c.server.Shutdown()

	if err := c.inspector.Close(); err != nil {
		c.logger.Warn("Failed to close inspector", "error", err)
	}

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	return nil
}

// handleDocumentArrived processes one arrival task
func (c *Consumer) handleDocumentArrived(ctx context.Context, task *asynq.Task) error {
	var record S3EventRecord
	if err := json.Unmarshal(task.Payload(), &record); err != nil {
		return fmt.Errorf("failed to unmarshal event record: %v: %w", err, asynq.SkipRetry)
	}

	jobID, _ := asynq.GetTaskID(ctx)

	if _, err := processRecord(ctx, c.processor, c.logger, jobID, &record); err != nil {
		if !retryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	return nil
}

// GetStatistics returns consumer statistics. Queue counts are included once
// the queue exists in Redis.
func (c *Consumer) GetStatistics() map[string]interface{} {
	stats := map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"max_retries": c.config.MaxRetries,
	}

	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if err != nil {
		c.logger.Debug("Queue info unavailable", "error", err)
		return stats
	}

	stats["size"] = info.Size
	stats["pending"] = info.Pending
	stats["active"] = info.Active
	stats["scheduled"] = info.Scheduled
	stats["retry"] = info.Retry
	stats["archived"] = info.Archived
	stats["processed_today"] = info.Processed
	stats["failed_today"] = info.Failed

	return stats
}

// asynqLogger routes asynq's internal logging through the worker logger
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
