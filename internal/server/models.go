package server

import (
	"encoding/json"
	"time"

	"github.com/adverant/nexus/docextract-worker/internal/storage"
)

type Document struct {
	DocumentID      string         `json:"document_id"`
	UploadTimestamp time.Time      `json:"upload_timestamp"`
	Status          string         `json:"status"`
	SourceBucket    string         `json:"source_bucket,omitempty"`
	SourceKey       string         `json:"source_key,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	ExtractedData json.RawMessage `json:"extracted_data,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type DocumentList struct {
	Status    string     `json:"status"`
	Documents []Document `json:"documents"`
}

type EnqueueResult struct {
	JobIDs []string `json:"job_ids"`
}

func toDocument(record *storage.DocumentRecord, withData bool) Document {
	doc := Document{
		DocumentID:      record.DocumentID,
		UploadTimestamp: record.UploadTimestamp,
		Status:          record.Status,
		SourceBucket:    record.SourceBucket,
		SourceKey:       record.SourceKey,
		Metadata:        record.Metadata,
		ErrorMessage:    record.ErrorMessage,
		ProcessedAt:     record.ProcessedAt,
		UpdatedAt:       record.UpdatedAt,
	}

	if withData && len(record.ExtractedData) > 0 {
		doc.ExtractedData = record.ExtractedData
	}

	return doc
}
