package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the Document Extraction Worker
 *
 * Each failure that ends a document's processing carries a code so the
 * persisted record and the failure notification can be classified.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"
	ErrorMalformedInput    ErrorCode = "MALFORMED_INPUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
	ErrorBlobFailed    ErrorCode = "BLOB_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code       ErrorCode
	Message    string
	DocumentID string
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewProcessingTimeoutError(documentID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorProcessingTimeout,
		Message:    fmt.Sprintf("Processing timed out after %v", duration),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewRecognitionFailedError(documentID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorRecognitionFailed,
		Message:    fmt.Sprintf("Recognition failed using engine: %s", engine),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewMalformedInputError(documentID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorMalformedInput,
		Message:    "Recognition output is not a usable block collection",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewUnsupportedFormatError(documentID string, key string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorUnsupportedFormat,
		Message:    fmt.Sprintf("Unsupported document: %s", key),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"source_key": key,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(documentID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorStorageFailed,
		Message:    "Failed to store extraction results",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewBlobFailedError(documentID string, bucket string, key string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorBlobFailed,
		Message:    fmt.Sprintf("Failed to read s3://%s/%s", bucket, key),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"source_bucket": bucket,
			"source_key":    key,
		},
		Cause: cause,
	}
}

// IsPermanent reports whether err carries a code that another attempt
// cannot change: the document itself is unusable.
func IsPermanent(err error) bool {
	var processingErr *ProcessingError
	if !stderrors.As(err, &processingErr) {
		return false
	}

	switch processingErr.Code {
	case ErrorMalformedInput, ErrorUnsupportedFormat:
		return true
	}

	return false
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339),
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
