/**
 * Document Extraction Worker - Main Entry Point
 *
 * Architecture:
 * - S3 arrival events consumed from Redis (list queue or Asynq)
 * - Recognition through Textract or Tesseract, optionally cascaded
 * - Structure reconstruction into fields, tables and raw text
 * - PostgreSQL records, Qdrant fingerprints for duplicate detection
 * - Notifications over SNS and Redis pub/sub
 * - HTTP API for health, lookups, event intake and ad hoc reconstruction
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docextract-worker/internal/clients"
	"github.com/adverant/nexus/docextract-worker/internal/config"
	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/notify"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
	"github.com/adverant/nexus/docextract-worker/internal/queue"
	"github.com/adverant/nexus/docextract-worker/internal/server"
	"github.com/adverant/nexus/docextract-worker/internal/storage"
	"github.com/adverant/nexus/docextract-worker/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// consumer is the part of both queue backends main needs
type consumer interface {
	queue.Enqueuer
	start(ctx context.Context) error
	stop(ctx context.Context) error
	stats(ctx context.Context) (any, error)
}

type redisBackend struct{ *queue.RedisConsumer }

func (b redisBackend) start(ctx context.Context) error        { return b.Start() }
func (b redisBackend) stop(ctx context.Context) error         { return b.Stop() }
func (b redisBackend) stats(ctx context.Context) (any, error) { return b.GetStats(ctx) }

type asynqBackend struct{ *queue.Consumer }

func (b asynqBackend) start(ctx context.Context) error        { return b.Start(ctx) }
func (b asynqBackend) stop(ctx context.Context) error         { return b.Stop(ctx) }
func (b asynqBackend) stats(ctx context.Context) (any, error) { return b.GetStatistics(), nil }

func main() {
	logger := logging.NewLogger("main")

	if err := run(logger); err != nil {
		logger.Error("Worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Debug(".env not found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "docextract-worker")
	if err != nil {
		return err
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(flushCtx)
	}()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Info("Document extraction worker starting",
		"queue_backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"engine", cfg.RecognitionEngine,
		"fallback", cfg.RecognitionFallback,
		"workers", cfg.WorkerConcurrency,
		"duplicates", cfg.QdrantURL != "")

	// Storage (PostgreSQL + optional Qdrant)
	storageManager, err := storage.NewStorageManager(ctx,
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
		processor.DefaultFingerprintDimensions,
	)
	if err != nil {
		return err
	}
	defer storageManager.Close()

	// AWS clients
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return err
	}

	blobs := clients.NewS3Client(awsCfg)

	recognizer := newRecognizer(cfg, clients.NewTextractClient(awsCfg), blobs)

	// Notifications
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}

	notifyClient := redis.NewClient(redisOpt)
	defer notifyClient.Close()

	notifiers := notify.Multi{
		notify.NewRedisNotifier(notifyClient, cfg.QueueName+":notifications"),
	}

	if cfg.SNSTopicARN != "" {
		notifiers = append(notifiers, notify.NewSNSNotifier(awsCfg, cfg.SNSTopicARN))
	}

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Recognizer:         recognizer,
		Store:              storageManager,
		Duplicates:         storageManager,
		Blobs:              blobs,
		Notifier:           notifiers,
		DefaultBucket:      cfg.BucketName,
		SyncSizeLimit:      cfg.SyncSizeLimit,
		ProcessingTimeout:  time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
		DuplicateThreshold: float32(cfg.DuplicateThreshold),
	})
	if err != nil {
		return err
	}

	// Queue consumer
	jobs, err := newConsumer(cfg, proc)
	if err != nil {
		return err
	}

	if err := jobs.start(ctx); err != nil {
		return err
	}

	// HTTP API
	api := server.New(storageManager, jobs).
		WithAllowedOrigins(cfg.AllowedOrigins...).
		WithStats("storage", func(ctx context.Context) (any, error) { return storageManager.GetStats(ctx) }).
		WithStats("queue", jobs.stats)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTPAddr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	logger.Info("Worker is ready, waiting for jobs", "recognizer", recognizer.Name())

	var runErr error

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-serverErr:
		logger.Error("HTTP API failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP API", "error", err)
	}

	if err := jobs.stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")

	return runErr
}

func newRecognizer(cfg *config.Config, textract *clients.TextractClient, blobs *clients.S3Client) processor.Recognizer {
	textractRecognizer := processor.NewTextractRecognizer(textract)

	tesseract := processor.NewTesseractOCR(&processor.TesseractConfig{
		Languages:     cfg.TesseractLanguages,
		MaxBytes:      cfg.SyncSizeLimit,
		MinConfidence: cfg.TesseractMinConfidence,
	}, blobs)

	var primary, fallback processor.Recognizer = textractRecognizer, tesseract

	if cfg.RecognitionEngine == config.RecognitionEngineTesseract {
		primary, fallback = tesseract, textractRecognizer
	}

	if !cfg.RecognitionFallback {
		return primary
	}

	return processor.NewCascadeRecognizer(primary, fallback)
}

func newConsumer(cfg *config.Config, proc processor.DocumentProcessorInterface) (consumer, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:    cfg.RedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: cfg.WorkerConcurrency,
			MaxRetries:  cfg.MaxRetries,
			Processor:   proc,
		})
		if err != nil {
			return nil, err
		}

		return asynqBackend{c}, nil
	}

	c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		MaxRetries:  cfg.MaxRetries,
		Processor:   proc,
	})
	if err != nil {
		return nil, err
	}

	return redisBackend{c}, nil
}
