/**
 * PostgreSQL Client for the Document Extraction Worker
 *
 * Persists one record per (document_id, upload_timestamp) with a status
 * lifecycle: processing -> completed | failed.
 */

package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Document statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrDocumentNotFound is returned when no record matches the lookup
var ErrDocumentNotFound = errors.New("document not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// StatusUpdate represents a document status transition
type StatusUpdate struct {
	DocumentID      string
	UploadTimestamp time.Time
	Status          string
	Metadata        map[string]interface{}
	ErrorMessage    string
}

// DocumentRecord is the durable form of a processed document
type DocumentRecord struct {
	DocumentID      string
	UploadTimestamp time.Time
	Status          string
	SourceBucket    string
	SourceKey       string
	Metadata        map[string]interface{}
	ExtractedData   json.RawMessage
	ErrorMessage    string
	ProcessedAt     *time.Time
	UpdatedAt       time.Time
}

const schema = `
	CREATE SCHEMA IF NOT EXISTS docextract;

	CREATE TABLE IF NOT EXISTS docextract.documents (
		document_id      TEXT        NOT NULL,
		upload_timestamp TIMESTAMPTZ NOT NULL,
		status           TEXT        NOT NULL,
		source_bucket    TEXT,
		source_key       TEXT,
		metadata         JSONB       NOT NULL DEFAULT '{}'::jsonb,
		extracted_data   JSONB,
		error_message    TEXT,
		processed_at     TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (document_id, upload_timestamp)
	);

	CREATE INDEX IF NOT EXISTS documents_status_idx
		ON docextract.documents (status, upload_timestamp DESC);
`

const selectColumns = `
	document_id, upload_timestamp, status, source_bucket, source_key,
	metadata, extracted_data, error_message, processed_at, updated_at
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the documents table and its status index if missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpdateStatus creates the record if needed and moves it to a new status.
// Metadata is merged into the stored metadata; an empty error message keeps
// the previous one.
func (p *PostgresClient) UpdateStatus(ctx context.Context, update *StatusUpdate) error {
	if update.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	var metadataJSON []byte
	if update.Metadata != nil {
		var err error
		if metadataJSON, err = json.Marshal(update.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sanitizeJSONForPostgres(metadataJSON)
	}

	query := `
		INSERT INTO docextract.documents (
			document_id, upload_timestamp, status, metadata, error_message, updated_at
		) VALUES (
			$1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb), NULLIF($5, ''), NOW()
		)
		ON CONFLICT (document_id, upload_timestamp) DO UPDATE SET
			status = EXCLUDED.status,
			metadata = docextract.documents.metadata || EXCLUDED.metadata,
			error_message = COALESCE(EXCLUDED.error_message, docextract.documents.error_message),
			updated_at = NOW()
	`

	_, err := p.db.ExecContext(ctx, query,
		update.DocumentID,
		update.UploadTimestamp.UTC(),
		update.Status,
		nullableJSON(metadataJSON),
		update.ErrorMessage,
	)

	if err != nil {
		return fmt.Errorf("failed to update document status (document=%s, status=%s): %w",
			update.DocumentID, update.Status, err)
	}

	return nil
}

// SaveDocument writes the full record, replacing extracted data and status
func (p *PostgresClient) SaveDocument(ctx context.Context, record *DocumentRecord) error {
	if record.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}

	if record.Status == "" {
		record.Status = StatusCompleted
	}

	var metadataJSON []byte
	if record.Metadata != nil {
		var err error
		if metadataJSON, err = json.Marshal(record.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sanitizeJSONForPostgres(metadataJSON)
	}

	var extracted []byte
	if len(record.ExtractedData) > 0 {
		extracted = sanitizeJSONForPostgres(record.ExtractedData)
	}

	query := `
		INSERT INTO docextract.documents (
			document_id, upload_timestamp, status, source_bucket, source_key,
			metadata, extracted_data, error_message, processed_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''),
			COALESCE($6::jsonb, '{}'::jsonb), $7::jsonb, NULL, NOW(), NOW()
		)
		ON CONFLICT (document_id, upload_timestamp) DO UPDATE SET
			status = EXCLUDED.status,
			source_bucket = EXCLUDED.source_bucket,
			source_key = EXCLUDED.source_key,
			metadata = docextract.documents.metadata || EXCLUDED.metadata,
			extracted_data = EXCLUDED.extracted_data,
			error_message = NULL,
			processed_at = NOW(),
			updated_at = NOW()
	`

	_, err := p.db.ExecContext(ctx, query,
		record.DocumentID,
		record.UploadTimestamp.UTC(),
		record.Status,
		record.SourceBucket,
		record.SourceKey,
		nullableJSON(metadataJSON),
		nullableJSON(extracted),
	)

	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", record.DocumentID, err)
	}

	return nil
}

// GetDocument retrieves a record. A nil timestamp selects the newest upload.
func (p *PostgresClient) GetDocument(ctx context.Context, documentID string, uploadTimestamp *time.Time) (*DocumentRecord, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	var row *sql.Row

	if uploadTimestamp != nil {
		row = p.db.QueryRowContext(ctx, `
			SELECT `+selectColumns+`
			FROM docextract.documents
			WHERE document_id = $1 AND upload_timestamp = $2
		`, documentID, uploadTimestamp.UTC())
	} else {
		row = p.db.QueryRowContext(ctx, `
			SELECT `+selectColumns+`
			FROM docextract.documents
			WHERE document_id = $1
			ORDER BY upload_timestamp DESC
			LIMIT 1
		`, documentID)
	}

	record, err := scanDocument(row)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return record, nil
}

// QueryByStatus lists documents in a status, newest upload first
func (p *PostgresClient) QueryByStatus(ctx context.Context, status string, limit int) ([]*DocumentRecord, error) {
	if status == "" {
		return nil, fmt.Errorf("status is required")
	}

	if limit <= 0 {
		limit = 10
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM docextract.documents
		WHERE status = $1
		ORDER BY upload_timestamp DESC
		LIMIT $2
	`, status, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query documents by status: %w", err)
	}

	defer rows.Close()

	records := []*DocumentRecord{}

	for rows.Next() {
		record, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return records, nil
}

// DecodeExtractedData unmarshals the stored extracted data. Numbers are kept
// as json.Number so amounts survive the round trip without float rounding.
func (r *DocumentRecord) DecodeExtractedData(v interface{}) error {
	if len(r.ExtractedData) == 0 {
		return fmt.Errorf("document %s has no extracted data", r.DocumentID)
	}
	return decodeJSON(r.ExtractedData, v)
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*DocumentRecord, error) {
	var (
		record                            DocumentRecord
		sourceBucket, sourceKey, errorMsg sql.NullString
		metadataJSON, extractedJSON       []byte
		processedAt                       sql.NullTime
	)

	err := row.Scan(
		&record.DocumentID,
		&record.UploadTimestamp,
		&record.Status,
		&sourceBucket,
		&sourceKey,
		&metadataJSON,
		&extractedJSON,
		&errorMsg,
		&processedAt,
		&record.UpdatedAt,
	)

	if err != nil {
		return nil, err
	}

	record.SourceBucket = sourceBucket.String
	record.SourceKey = sourceKey.String
	record.ErrorMessage = errorMsg.String

	if processedAt.Valid {
		t := processedAt.Time
		record.ProcessedAt = &t
	}

	if len(metadataJSON) > 0 {
		if err := decodeJSON(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if len(extractedJSON) > 0 {
		record.ExtractedData = json.RawMessage(extractedJSON)
	}

	return &record, nil
}

func decodeJSON(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}

// nullableJSON maps an empty payload to SQL NULL
func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
