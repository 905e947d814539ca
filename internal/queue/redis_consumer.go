/**
 * Direct Redis Queue Consumer for the Document Extraction Worker
 *
 * Uses simple Redis LIST operations:
 * - <queue>            job ids, LPUSH to enqueue, BRPOP to consume
 * - <queue>:data       job payloads by id
 * - <queue>:processing|completed|failed   status sets
 * - <queue>:results|errors                final outcome by id
 * - <queue>:events     pub/sub channel for status changes
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

// Job statuses
const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string        `json:"id"`
	Record     S3EventRecord `json:"record"`
	CreatedAt  time.Time     `json:"createdAt"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"maxRetries"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.DocumentProcessorInterface
	config    *RedisConsumerConfig
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	MaxRetries  int
	Processor   processor.DocumentProcessorInterface

	// PollTimeout bounds each BRPOP (default: 5s)
	PollTimeout time.Duration
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	// Parse Redis URL
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	consumer, err := NewRedisConsumerWithClient(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}

	return consumer, nil
}

// NewRedisConsumerWithClient creates a consumer on an existing client. The
// consumer owns the client and closes it on Stop.
func NewRedisConsumerWithClient(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "docextract:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	// Test connection
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logging.NewLogger("queue").With("queue", cfg.QueueName),
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// QueueName returns the list the consumer pops from
func (c *RedisConsumer) QueueName() string {
	return c.config.QueueName
}

// Client returns the underlying Redis client
func (c *RedisConsumer) Client() *redis.Client {
	return c.client
}

// Enqueue stores one job per event record and returns the job ids
func (c *RedisConsumer) Enqueue(ctx context.Context, event *S3EventNotification) ([]string, error) {
	if event == nil || len(event.Records) == 0 {
		return nil, fmt.Errorf("event has no records")
	}

	ids := make([]string, 0, len(event.Records))

	for _, record := range event.Records {
		job := RedisJobData{
			ID:         uuid.NewString(),
			Record:     record,
			CreatedAt:  time.Now().UTC(),
			MaxRetries: c.config.MaxRetries,
		}

		data, err := json.Marshal(job)
		if err != nil {
			return ids, fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, c.key("data"), job.ID, data)
			pipe.LPush(ctx, c.config.QueueName, job.ID)
			return nil
		})

		if err != nil {
			return ids, fmt.Errorf("failed to enqueue job: %w", err)
		}

		ids = append(ids, job.ID)
	}

	return ids, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer; in-flight jobs finish first
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()

	logger := c.logger.With("worker", id)
	logger.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			logger.Debug("Worker stopping")
			return
		default:
		}

		if err := c.processNextJob(c.ctx); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}

			logger.Error("Worker error", "error", err)

			// Small delay before trying again
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob(ctx context.Context) error {
	result, err := c.client.BRPop(ctx, c.config.PollTimeout, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	// A popped job runs to completion even when the consumer is stopping
	ctx = context.WithoutCancel(ctx)

	return c.handleJob(ctx, result[1])
}

func (c *RedisConsumer) handleJob(ctx context.Context, jobID string) error {
	jobData, err := c.client.HGet(ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.updateJobStatus(ctx, jobID, JobStatusFailed, map[string]interface{}{
			"error": fmt.Sprintf("invalid job payload: %v", err),
		})
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	c.updateJobStatus(ctx, job.ID, JobStatusProcessing, nil)

	processResult, err := processRecord(ctx, c.processor, c.logger, job.ID, &job.Record)
	if err != nil {
		job.Attempts++

		details := map[string]interface{}{
			"error":    err.Error(),
			"attempts": job.Attempts,
		}

		if !retryable(err) {
			details["permanent"] = true
			c.updateJobStatus(ctx, job.ID, JobStatusFailed, details)
			return nil
		}

		if job.Attempts <= job.MaxRetries {
			// BRPOP already removed the id; a lost push loses the job
			if requeueErr := c.requeue(ctx, &job); requeueErr != nil {
				details["requeue_error"] = requeueErr.Error()
				c.updateJobStatus(ctx, job.ID, JobStatusFailed, details)
				return fmt.Errorf("failed to re-queue job %s: %w", job.ID, requeueErr)
			}

			c.logger.Warn("Job re-queued for retry",
				"job_id", job.ID,
				"attempt", job.Attempts,
				"max_retries", job.MaxRetries)
			return nil
		}

		c.updateJobStatus(ctx, job.ID, JobStatusFailed, details)
		return nil
	}

	c.updateJobStatus(ctx, job.ID, JobStatusCompleted, processResult)
	return nil
}

// requeue stores the updated attempt count and pushes the job back atomically
func (c *RedisConsumer) requeue(ctx context.Context, job *RedisJobData) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key("data"), job.ID, data)
		pipe.LPush(ctx, c.config.QueueName, job.ID)
		return nil
	})

	return err
}

// updateJobStatus moves a job between status sets and publishes the change
func (c *RedisConsumer) updateJobStatus(ctx context.Context, jobID string, status string, result interface{}) {
	pipe := c.client.TxPipeline()

	switch status {
	case JobStatusProcessing:
		pipe.SAdd(ctx, c.key("processing"), jobID)
	case JobStatusCompleted:
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("completed"), jobID)
		if result != nil {
			resultData, _ := json.Marshal(result)
			pipe.HSet(ctx, c.key("results"), jobID, resultData)
		}
	case JobStatusFailed:
		pipe.SRem(ctx, c.key("processing"), jobID)
		pipe.SAdd(ctx, c.key("failed"), jobID)
		if result != nil {
			errorData, _ := json.Marshal(result)
			pipe.HSet(ctx, c.key("errors"), jobID, errorData)
		}
	}

	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	pipe.Publish(ctx, c.key("events"), eventData)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to update job status", "job_id", jobID, "status", status, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()

	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

func (c *RedisConsumer) key(suffix string) string {
	return c.config.QueueName + ":" + suffix
}
