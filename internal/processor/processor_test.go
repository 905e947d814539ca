package processor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docextract-worker/internal/clients"
	"github.com/adverant/nexus/docextract-worker/internal/errors"
	"github.com/adverant/nexus/docextract-worker/internal/notify"
	"github.com/adverant/nexus/docextract-worker/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	updates   []*storage.StatusUpdate
	saved     []*storage.DocumentRecord
	updateErr error
	saveErr   error
}

func (f *fakeStore) UpdateStatus(ctx context.Context, update *storage.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeStore) SaveDocument(ctx context.Context, record *storage.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, record)
	return nil
}

func (f *fakeStore) statuses() []string {
	var statuses []string
	for _, u := range f.updates {
		statuses = append(statuses, u.Status)
	}
	return statuses
}

type fakeIndex struct {
	duplicates []storage.Duplicate
	indexed    []string
	threshold  float32
}

func (f *fakeIndex) DuplicatesEnabled() bool { return true }

func (f *fakeIndex) IndexFingerprint(ctx context.Context, documentID string, uploadTimestamp time.Time, fingerprint []float32) error {
	f.indexed = append(f.indexed, documentID)
	return nil
}

func (f *fakeIndex) FindDuplicates(ctx context.Context, documentID string, uploadTimestamp time.Time, fingerprint []float32, threshold float32, limit int) ([]storage.Duplicate, error) {
	f.threshold = threshold
	return f.duplicates, nil
}

type fakeMover struct {
	moved []string
	err   error
}

func (f *fakeMover) MoveToProcessed(ctx context.Context, bucket, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.moved = append(f.moved, key)
	return "processed/" + key[len("incoming/"):], nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	received []*notify.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n *notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, n)
	return nil
}

type slowRecognizer struct{}

func (slowRecognizer) Name() string { return "slow" }

func (slowRecognizer) Analyze(ctx context.Context, src *Source) (*BlockGraph, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type pipeline struct {
	processor *DocumentProcessor
	store     *fakeStore
	index     *fakeIndex
	mover     *fakeMover
	notifier  *recordingNotifier
}

func newPipeline(t *testing.T, recognizer Recognizer) *pipeline {
	t.Helper()

	p := &pipeline{
		store:    &fakeStore{},
		index:    &fakeIndex{},
		mover:    &fakeMover{},
		notifier: &recordingNotifier{},
	}

	processor, err := NewDocumentProcessor(&ProcessorConfig{
		Recognizer:         recognizer,
		Store:              p.store,
		Duplicates:         p.index,
		Blobs:              p.mover,
		Notifier:           p.notifier,
		DuplicateThreshold: 0.9,
	})
	require.NoError(t, err)

	p.processor = processor
	return p
}

var arrival = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProcessDocumentSuccess(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})
	p.index.duplicates = []storage.Duplicate{{DocumentID: "invoice_20240201120000_00000000", Score: 0.97}}

	result, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Bucket:    "invoices",
		Key:       "incoming/invoice.pdf",
		Size:      2048,
		EventTime: arrival,
	})
	require.NoError(t, err)

	expectedID := GenerateDocumentID("incoming/invoice.pdf", arrival)

	assert.Equal(t, expectedID, result.DocumentID)
	assert.Equal(t, "processed/invoice.pdf", result.ProcessedKey)
	assert.Equal(t, 2, result.FieldCount)
	assert.Equal(t, 1, result.TableCount)
	assert.Len(t, result.Duplicates, 1)

	assert.Equal(t, []string{storage.StatusProcessing}, p.store.statuses())
	assert.Equal(t, "invoices", p.store.updates[0].Metadata["source_bucket"])
	assert.Equal(t, int64(2048), p.store.updates[0].Metadata["file_size"])

	require.Len(t, p.store.saved, 1)
	saved := p.store.saved[0]
	assert.Equal(t, storage.StatusCompleted, saved.Status)
	assert.Equal(t, arrival, saved.UploadTimestamp)
	assert.Equal(t, p.index.duplicates, saved.Metadata["possible_duplicates"])

	var doc Document
	require.NoError(t, json.Unmarshal(saved.ExtractedData, &doc))
	assert.Equal(t, result.Document.Fields, doc.Fields)
	assert.Equal(t, result.Document.RawText, doc.RawText)

	assert.Equal(t, []string{expectedID}, p.index.indexed)
	assert.Equal(t, float32(0.9), p.index.threshold)
	assert.Equal(t, []string{"incoming/invoice.pdf"}, p.mover.moved)

	require.Len(t, p.notifier.received, 1)
	assert.Equal(t, notify.SubjectProcessed, p.notifier.received[0].Subject)
	assert.Equal(t, expectedID, p.notifier.received[0].DocumentID)
	assert.Contains(t, p.notifier.received[0].Message, "Fields extracted: 2")
}

func TestProcessDocumentRecognitionFailure(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", err: stderrors.New("UnsupportedDocumentException")})

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Bucket:    "invoices",
		Key:       "incoming/broken.pdf",
		EventTime: arrival,
	})
	require.Error(t, err)

	var processingErr *errors.ProcessingError
	require.True(t, stderrors.As(err, &processingErr))
	assert.Equal(t, errors.ErrorRecognitionFailed, processingErr.Code)

	assert.Equal(t, []string{storage.StatusProcessing, storage.StatusFailed}, p.store.statuses())
	assert.Contains(t, p.store.updates[1].ErrorMessage, "UnsupportedDocumentException")
	assert.Empty(t, p.store.saved)
	assert.Empty(t, p.mover.moved)

	require.Len(t, p.notifier.received, 1)
	assert.Equal(t, notify.SubjectFailed, p.notifier.received[0].Subject)
	assert.Equal(t, notify.StatusError, p.notifier.received[0].Status)
}

func TestProcessDocumentMalformedGraph(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: nil})

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{Key: "incoming/a.pdf", EventTime: arrival})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)

	var processingErr *errors.ProcessingError
	require.True(t, stderrors.As(err, &processingErr))
	assert.Equal(t, errors.ErrorMalformedInput, processingErr.Code)
}

func TestProcessDocumentStorageFailure(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})
	p.store.saveErr = stderrors.New("connection refused")

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{Key: "incoming/a.pdf", EventTime: arrival})
	require.Error(t, err)

	var processingErr *errors.ProcessingError
	require.True(t, stderrors.As(err, &processingErr))
	assert.Equal(t, errors.ErrorStorageFailed, processingErr.Code)
	assert.Equal(t, []string{storage.StatusProcessing, storage.StatusFailed}, p.store.statuses())
	assert.Empty(t, p.index.indexed)
}

func TestProcessDocumentMarkProcessingFailure(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})
	p.store.updateErr = stderrors.New("connection refused")

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{Key: "incoming/a.pdf", EventTime: arrival})
	require.Error(t, err)

	assert.Empty(t, p.store.saved)
	require.Len(t, p.notifier.received, 1)
	assert.Equal(t, notify.SubjectFailed, p.notifier.received[0].Subject)
}

func TestProcessDocumentMoveFailureIsWarning(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})
	p.mover.err = stderrors.New("AccessDenied")

	result, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Bucket:    "invoices",
		Key:       "incoming/a.pdf",
		EventTime: arrival,
	})
	require.NoError(t, err)

	assert.Empty(t, result.ProcessedKey)
	require.Len(t, p.notifier.received, 1)
	assert.Equal(t, notify.SubjectProcessed, p.notifier.received[0].Subject)
}

func TestProcessDocumentLargeUsesSamePipeline(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})

	result, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Bucket:    "invoices",
		Key:       "incoming/scan.tiff",
		Size:      20 * 1024 * 1024,
		EventTime: arrival,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.FieldCount)
	assert.Len(t, p.store.saved, 1)
}

func TestProcessDocumentTimeout(t *testing.T) {
	store := &fakeStore{}

	processor, err := NewDocumentProcessor(&ProcessorConfig{
		Recognizer:        slowRecognizer{},
		Store:             store,
		ProcessingTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = processor.ProcessDocument(context.Background(), &ProcessRequest{Key: "incoming/a.pdf", EventTime: arrival})
	require.Error(t, err)

	var processingErr *errors.ProcessingError
	require.True(t, stderrors.As(err, &processingErr))
	assert.Equal(t, errors.ErrorProcessingTimeout, processingErr.Code)
	assert.Equal(t, []string{storage.StatusProcessing, storage.StatusFailed}, store.statuses())
}

func TestProcessDocumentRequiresKey(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{Bucket: "invoices"})
	require.Error(t, err)
	assert.Empty(t, p.store.updates)
	assert.Len(t, p.notifier.received, 1)
}

func TestNewDocumentProcessorValidation(t *testing.T) {
	_, err := NewDocumentProcessor(nil)
	assert.Error(t, err)

	_, err = NewDocumentProcessor(&ProcessorConfig{Store: &fakeStore{}})
	assert.Error(t, err)

	_, err = NewDocumentProcessor(&ProcessorConfig{Recognizer: slowRecognizer{}})
	assert.Error(t, err)
}

func TestProcessDocumentUsesDefaultBucket(t *testing.T) {
	p := newPipeline(t, &stubRecognizer{name: "textract", graph: invoiceGraph()})
	p.processor.config.DefaultBucket = "invoices"

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Key:       "incoming/invoice.pdf",
		EventTime: arrival,
	})
	require.NoError(t, err)

	assert.Equal(t, "invoices", p.store.updates[0].Metadata["source_bucket"])
	require.Len(t, p.store.saved, 1)
	assert.Equal(t, "invoices", p.store.saved[0].SourceBucket)
	assert.Equal(t, []string{"incoming/invoice.pdf"}, p.mover.moved)
}

func TestProcessDocumentUnsupportedFormat(t *testing.T) {
	rejected := fmt.Errorf("%w: UnsupportedDocumentException: unsupported format", clients.ErrUnsupportedDocument)
	p := newPipeline(t, &stubRecognizer{name: "textract", err: rejected})

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Bucket:    "invoices",
		Key:       "incoming/notes.docx",
		EventTime: arrival,
	})
	require.Error(t, err)

	var processingErr *errors.ProcessingError
	require.True(t, stderrors.As(err, &processingErr))
	assert.Equal(t, errors.ErrorUnsupportedFormat, processingErr.Code)
	assert.ErrorIs(t, err, clients.ErrUnsupportedDocument)

	assert.Equal(t, []string{storage.StatusProcessing, storage.StatusFailed}, p.store.statuses())
	assert.Equal(t, "UNSUPPORTED_FORMAT", p.store.updates[1].Metadata["error_details"].(map[string]interface{})["error_code"])
}

func TestProcessDocumentBlobFailure(t *testing.T) {
	missing := fmt.Errorf("%w: NoSuchKey", ErrSourceUnavailable)
	p := newPipeline(t, &stubRecognizer{name: "tesseract", err: missing})

	_, err := p.processor.ProcessDocument(context.Background(), &ProcessRequest{
		Bucket:    "invoices",
		Key:       "incoming/scan.png",
		EventTime: arrival,
	})
	require.Error(t, err)

	var processingErr *errors.ProcessingError
	require.True(t, stderrors.As(err, &processingErr))
	assert.Equal(t, errors.ErrorBlobFailed, processingErr.Code)
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	details := p.store.updates[1].Metadata["error_details"].(map[string]interface{})
	assert.Equal(t, "BLOB_FAILED", details["error_code"])
	assert.Equal(t, "invoices", details["source_bucket"])
	assert.Equal(t, "incoming/scan.png", details["source_key"])
}
