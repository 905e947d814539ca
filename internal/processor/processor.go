/**
 * Document Processor for the Document Extraction Worker
 *
 * Orchestrates one arrival end to end:
 * - Derive the document id and mark the record processing
 * - Recognize the document into a block graph
 * - Reconstruct fields, tables and raw text
 * - Persist the result, index its fingerprint, move the blob
 * - Notify subscribers of success or failure
 */

package processor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/adverant/nexus/docextract-worker/internal/clients"
	"github.com/adverant/nexus/docextract-worker/internal/errors"
	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/notify"
	"github.com/adverant/nexus/docextract-worker/internal/storage"
)

const (
	defaultSyncSizeLimit     = 5 * 1024 * 1024
	defaultProcessingTimeout = 5 * time.Minute
	maxDuplicates            = 5
)

var tracer = otel.Tracer(instrumentationName)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
}

// DocumentStore persists document records
type DocumentStore interface {
	UpdateStatus(ctx context.Context, update *storage.StatusUpdate) error
	SaveDocument(ctx context.Context, record *storage.DocumentRecord) error
}

// DuplicateIndex stores fingerprints and finds near duplicates
type DuplicateIndex interface {
	DuplicatesEnabled() bool
	IndexFingerprint(ctx context.Context, documentID string, uploadTimestamp time.Time, fingerprint []float32) error
	FindDuplicates(ctx context.Context, documentID string, uploadTimestamp time.Time, fingerprint []float32, threshold float32, limit int) ([]storage.Duplicate, error)
}

// BlobMover relocates processed documents
type BlobMover interface {
	MoveToProcessed(ctx context.Context, bucket, key string) (string, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Recognizer Recognizer
	Store      DocumentStore

	// Optional collaborators
	Duplicates    DuplicateIndex
	Blobs         BlobMover
	Notifier      notify.Notifier
	Fingerprinter *Fingerprinter

	// DefaultBucket is used for requests that name no bucket
	DefaultBucket string

	SyncSizeLimit      int64
	ProcessingTimeout  time.Duration
	DuplicateThreshold float32

	// MeterProvider defaults to the global provider
	MeterProvider metric.MeterProvider
}

// ProcessRequest represents one document arrival
type ProcessRequest struct {
	JobID     string
	Bucket    string
	Key       string
	Size      int64
	EventTime time.Time

	// Data carries the document bytes when the caller already has them
	Data []byte
}

// ProcessResult represents the processing result
type ProcessResult struct {
	DocumentID       string              `json:"document_id"`
	UploadTimestamp  time.Time           `json:"upload_timestamp"`
	FieldCount       int                 `json:"fields_count"`
	TableCount       int                 `json:"tables_count"`
	BlockCount       int                 `json:"block_count"`
	Recognizer       string              `json:"recognizer"`
	ProcessedKey     string              `json:"processed_key,omitempty"`
	Duplicates       []storage.Duplicate `json:"possible_duplicates,omitempty"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
	Document         *Document           `json:"-"`
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config        *ProcessorConfig
	reconstructor *StructureReconstructor
	metrics       *pipelineMetrics
	logger        *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("document store is required")
	}

	if cfg.SyncSizeLimit <= 0 {
		cfg.SyncSizeLimit = defaultSyncSizeLimit
	}

	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaultProcessingTimeout
	}

	if cfg.Fingerprinter == nil {
		cfg.Fingerprinter = NewFingerprinter(DefaultFingerprintDimensions)
	}

	if cfg.Notifier == nil {
		cfg.Notifier = notify.Multi{}
	}

	return &DocumentProcessor{
		config:        cfg,
		reconstructor: NewStructureReconstructor(),
		metrics:       newPipelineMetrics(cfg.MeterProvider),
		logger:        logging.NewLogger("processor"),
	}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	if req == nil || req.Key == "" {
		err := fmt.Errorf("arrival has no object key")
		p.notify(ctx, notify.Failed("", err))
		return nil, err
	}

	if req.Bucket == "" {
		req.Bucket = p.config.DefaultBucket
	}

	uploadTimestamp := req.EventTime.UTC()
	if req.EventTime.IsZero() {
		uploadTimestamp = time.Now().UTC()
	}

	documentID := GenerateDocumentID(req.Key, uploadTimestamp)
	logger := p.logger.With("document_id", documentID, "job_id", req.JobID)

	ctx, span := tracer.Start(ctx, "ProcessDocument", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.String("document.bucket", req.Bucket),
		attribute.String("document.key", req.Key),
		attribute.Int64("document.size", req.Size),
	))
	defer span.End()

	logger.InfoContext(ctx, "Processing document", "bucket", req.Bucket, "key", req.Key, "size", req.Size)

	// Step 1: Mark the record as processing
	err := p.config.Store.UpdateStatus(ctx, &storage.StatusUpdate{
		DocumentID:      documentID,
		UploadTimestamp: uploadTimestamp,
		Status:          storage.StatusProcessing,
		Metadata: map[string]interface{}{
			"source_bucket": req.Bucket,
			"source_key":    req.Key,
			"file_size":     req.Size,
		},
	})

	if err != nil {
		storageErr := errors.NewStorageFailedError(documentID, err)
		span.RecordError(storageErr)
		span.SetStatus(codes.Error, "mark processing failed")
		logger.ErrorContext(ctx, "Failed to mark document processing", "error", err)
		p.metrics.failed(ctx, p.config.Recognizer.Name(), 0, storageErr)
		p.notify(ctx, notify.Failed(documentID, storageErr))
		return nil, storageErr
	}

	// Step 2: Route by size
	if req.Size > p.config.SyncSizeLimit {
		return p.processLargeDocument(ctx, req, documentID, uploadTimestamp)
	}

	return p.processDocumentSync(ctx, req, documentID, uploadTimestamp)
}

// processLargeDocument handles documents over the synchronous size limit.
// There is no asynchronous analysis path; large documents go through the
// synchronous pipeline.
func (p *DocumentProcessor) processLargeDocument(ctx context.Context, req *ProcessRequest, documentID string, uploadTimestamp time.Time) (*ProcessResult, error) {
	p.logger.WarnContext(ctx, "Large document detected, processing synchronously",
		"document_id", documentID,
		"size", req.Size,
		"sync_size_limit", p.config.SyncSizeLimit)

	return p.processDocumentSync(ctx, req, documentID, uploadTimestamp)
}

func (p *DocumentProcessor) processDocumentSync(ctx context.Context, req *ProcessRequest, documentID string, uploadTimestamp time.Time) (*ProcessResult, error) {
	startTime := time.Now()
	logger := p.logger.With("document_id", documentID)

	ctx, cancel := context.WithTimeout(ctx, p.config.ProcessingTimeout)
	defer cancel()

	result, err := p.runPipeline(ctx, req, documentID, uploadTimestamp)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.NewProcessingTimeoutError(documentID, p.config.ProcessingTimeout, err)
		}

		trace.SpanFromContext(ctx).RecordError(err)
		trace.SpanFromContext(ctx).SetStatus(codes.Error, "processing failed")

		p.metrics.failed(context.WithoutCancel(ctx), p.config.Recognizer.Name(), time.Since(startTime), err)
		p.markFailed(ctx, documentID, uploadTimestamp, err)
		return nil, err
	}

	elapsed := time.Since(startTime)
	result.ProcessingTimeMs = elapsed.Milliseconds()
	p.metrics.completed(ctx, result.Recognizer, elapsed, len(result.Duplicates))

	// Step 6: Move the blob; failure leaves the object in place
	if p.config.Blobs != nil && req.Bucket != "" {
		processedKey, moveErr := p.config.Blobs.MoveToProcessed(ctx, req.Bucket, req.Key)
		if moveErr != nil {
			logger.WarnContext(ctx, "Could not move document", "key", req.Key, "error", moveErr)
		} else if processedKey != "" {
			result.ProcessedKey = processedKey
			logger.InfoContext(ctx, "Moved document", "from", req.Key, "to", processedKey)
		}
	}

	// Step 7: Notify
	p.notify(ctx, notify.Processed(documentID, req.Key, result.FieldCount, result.TableCount))

	logger.InfoContext(ctx, "Document processed",
		"fields", result.FieldCount,
		"tables", result.TableCount,
		"blocks", result.BlockCount,
		"duplicates", len(result.Duplicates),
		"duration_ms", result.ProcessingTimeMs)

	return result, nil
}

// runPipeline recognizes, reconstructs and persists the document
func (p *DocumentProcessor) runPipeline(ctx context.Context, req *ProcessRequest, documentID string, uploadTimestamp time.Time) (*ProcessResult, error) {
	recognizer := p.config.Recognizer

	// Step 3: Recognize
	recognizeCtx, span := tracer.Start(ctx, "recognize", trace.WithAttributes(
		attribute.String("recognizer", recognizer.Name()),
	))

	graph, err := recognizer.Analyze(recognizeCtx, &Source{
		DocumentID: documentID,
		Bucket:     req.Bucket,
		Key:        req.Key,
		Size:       req.Size,
		Data:       req.Data,
	})

	span.End()

	if err != nil {
		if stderrors.Is(err, ErrMalformedInput) {
			return nil, errors.NewMalformedInputError(documentID, err)
		}
		if stderrors.Is(err, clients.ErrUnsupportedDocument) {
			return nil, errors.NewUnsupportedFormatError(documentID, req.Key, err)
		}
		if stderrors.Is(err, ErrSourceUnavailable) {
			return nil, errors.NewBlobFailedError(documentID, req.Bucket, req.Key, err)
		}
		return nil, errors.NewRecognitionFailedError(documentID, recognizer.Name(), err)
	}

	// Step 4: Reconstruct
	doc, err := p.reconstructor.Reconstruct(graph)
	if err != nil {
		return nil, errors.NewMalformedInputError(documentID, err)
	}

	result := &ProcessResult{
		DocumentID:      documentID,
		UploadTimestamp: uploadTimestamp,
		FieldCount:      len(doc.Fields),
		TableCount:      len(doc.Tables),
		BlockCount:      doc.BlockCount,
		Recognizer:      recognizer.Name(),
		Document:        doc,
	}

	// Step 5: Look for earlier copies before saving so the record can point at them
	fingerprint, hasFingerprint := p.config.Fingerprinter.Fingerprint(doc)
	duplicatesEnabled := p.config.Duplicates != nil && p.config.Duplicates.DuplicatesEnabled() && hasFingerprint

	if duplicatesEnabled {
		duplicates, err := p.config.Duplicates.FindDuplicates(ctx, documentID, uploadTimestamp, fingerprint, p.config.DuplicateThreshold, maxDuplicates)
		if err != nil {
			p.logger.WarnContext(ctx, "Duplicate search failed", "document_id", documentID, "error", err)
		}
		result.Duplicates = duplicates
	}

	extracted, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	metadata := map[string]interface{}{
		"field_count": result.FieldCount,
		"table_count": result.TableCount,
		"block_count": result.BlockCount,
		"recognizer":  result.Recognizer,
	}

	if len(result.Duplicates) > 0 {
		metadata["possible_duplicates"] = result.Duplicates
	}

	saveCtx, saveSpan := tracer.Start(ctx, "save")
	err = p.config.Store.SaveDocument(saveCtx, &storage.DocumentRecord{
		DocumentID:      documentID,
		UploadTimestamp: uploadTimestamp,
		Status:          storage.StatusCompleted,
		SourceBucket:    req.Bucket,
		SourceKey:       req.Key,
		Metadata:        metadata,
		ExtractedData:   extracted,
	})
	saveSpan.End()

	if err != nil {
		return nil, errors.NewStorageFailedError(documentID, err)
	}

	if duplicatesEnabled {
		if err := p.config.Duplicates.IndexFingerprint(ctx, documentID, uploadTimestamp, fingerprint); err != nil {
			p.logger.WarnContext(ctx, "Failed to index fingerprint", "document_id", documentID, "error", err)
		}
	}

	return result, nil
}

// markFailed records the failure and notifies subscribers. It runs even when
// ctx has been cancelled or has timed out.
func (p *DocumentProcessor) markFailed(ctx context.Context, documentID string, uploadTimestamp time.Time, cause error) {
	ctx = context.WithoutCancel(ctx)

	var metadata map[string]interface{}

	var processingErr *errors.ProcessingError
	if stderrors.As(cause, &processingErr) {
		metadata = map[string]interface{}{"error_details": processingErr.ToMap()}
	}

	p.logger.ErrorContext(ctx, "Document processing failed", "document_id", documentID, "error", cause)

	if err := p.config.Store.UpdateStatus(ctx, &storage.StatusUpdate{
		DocumentID:      documentID,
		UploadTimestamp: uploadTimestamp,
		Status:          storage.StatusFailed,
		Metadata:        metadata,
		ErrorMessage:    cause.Error(),
	}); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark document failed", "document_id", documentID, "error", err)
	}

	p.notify(ctx, notify.Failed(documentID, cause))
}

func (p *DocumentProcessor) notify(ctx context.Context, n *notify.Notification) {
	if err := p.config.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		p.logger.WarnContext(ctx, "Could not send notification", "subject", n.Subject, "error", err)
		return
	}

	p.logger.DebugContext(ctx, "Notification sent", "subject", n.Subject, "document_id", n.DocumentID)
}
