package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/docextract-worker/internal/errors"
	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

// Enqueuer accepts arrival events for asynchronous processing
type Enqueuer interface {
	Enqueue(ctx context.Context, event *S3EventNotification) ([]string, error)
}

// errInvalidRecord marks event records that cannot become a request
var errInvalidRecord = stderrors.New("invalid event record")

// retryable reports whether a failed job may succeed on another attempt
func retryable(err error) bool {
	return !stderrors.Is(err, errInvalidRecord) && !errors.IsPermanent(err)
}

// processRecord runs one event record through the processor
func processRecord(ctx context.Context, p processor.DocumentProcessorInterface, logger *logging.Logger, jobID string, record *S3EventRecord) (*processor.ProcessResult, error) {
	request, err := record.ToProcessRequest(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidRecord, err)
	}

	startTime := time.Now()

	result, err := p.ProcessDocument(ctx, request)

	duration := time.Since(startTime)

	if err != nil {
		logger.ErrorContext(ctx, "Job failed", "job_id", jobID, "key", request.Key, "duration", duration.String(), "error", err)
		return nil, fmt.Errorf("document processing failed: %w", err)
	}

	logger.InfoContext(ctx, "Job completed",
		"job_id", jobID,
		"document_id", result.DocumentID,
		"duration", duration.String())

	return result, nil
}
