/**
 * Storage Manager for the Document Extraction Worker
 *
 * Coordinates storage operations across PostgreSQL (document records) and
 * Qdrant (fingerprints for duplicate detection). Qdrant is optional.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// fingerprintNamespace scopes the name-based point ids
var fingerprintNamespace = uuid.MustParse("6f1c9d2e-4b7a-5e3f-8a21-0c9b7d4e6f10")

var (
	nullEscapePattern    = regexp.MustCompile(`\\u0000`)
	controlEscapePattern = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// Duplicate is an earlier document whose fingerprint is close to a new one
type Duplicate struct {
	DocumentID      string    `json:"document_id"`
	UploadTimestamp time.Time `json:"upload_timestamp"`
	Score           float32   `json:"score"`
}

// NewStorageManager creates a new storage manager. An empty qdrantAddress
// disables duplicate detection.
func NewStorageManager(ctx context.Context, postgresURL, qdrantAddress, qdrantCollection string, dimensions int) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	sm := &StorageManager{postgres: postgres}

	if qdrantAddress == "" {
		return sm, nil
	}

	qdrant, err := NewQdrantClient(ctx, qdrantAddress, qdrantCollection, dimensions)
	if err != nil {
		postgres.Close() // Cleanup on failure
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	sm.qdrant = qdrant

	return sm, nil
}

// NewStorageManagerWithClients wraps already connected clients; qdrant may be nil
func NewStorageManagerWithClients(postgres *PostgresClient, qdrant *QdrantClient) *StorageManager {
	return &StorageManager{postgres: postgres, qdrant: qdrant}
}

// UpdateStatus records a status transition
func (sm *StorageManager) UpdateStatus(ctx context.Context, update *StatusUpdate) error {
	return sm.postgres.UpdateStatus(ctx, update)
}

// SaveDocument persists a completed document
func (sm *StorageManager) SaveDocument(ctx context.Context, record *DocumentRecord) error {
	return sm.postgres.SaveDocument(ctx, record)
}

// GetDocument retrieves a document record
func (sm *StorageManager) GetDocument(ctx context.Context, documentID string, uploadTimestamp *time.Time) (*DocumentRecord, error) {
	return sm.postgres.GetDocument(ctx, documentID, uploadTimestamp)
}

// QueryByStatus lists document records in a status
func (sm *StorageManager) QueryByStatus(ctx context.Context, status string, limit int) ([]*DocumentRecord, error) {
	return sm.postgres.QueryByStatus(ctx, status, limit)
}

// DuplicatesEnabled reports whether a fingerprint index is configured
func (sm *StorageManager) DuplicatesEnabled() bool {
	return sm.qdrant != nil
}

// FingerprintPointID derives the Qdrant point id of a document upload
func FingerprintPointID(documentID string, uploadTimestamp time.Time) string {
	name := documentID + "@" + uploadTimestamp.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(fingerprintNamespace, []byte(name)).String()
}

// IndexFingerprint stores the fingerprint of a document upload. Reprocessing
// the same upload overwrites its point.
func (sm *StorageManager) IndexFingerprint(ctx context.Context, documentID string, uploadTimestamp time.Time, fingerprint []float32) error {
	if sm.qdrant == nil {
		return nil
	}

	err := sm.qdrant.UpsertFingerprint(ctx, &FingerprintPoint{
		DocumentID:      documentID,
		UploadTimestamp: uploadTimestamp,
		Vector:          fingerprint,
	})

	if err != nil {
		return fmt.Errorf("failed to index fingerprint for %s: %w", documentID, err)
	}

	return nil
}

// FindDuplicates returns other uploads whose fingerprint scores at least threshold
func (sm *StorageManager) FindDuplicates(ctx context.Context, documentID string, uploadTimestamp time.Time, fingerprint []float32, threshold float32, limit int) ([]Duplicate, error) {
	if sm.qdrant == nil {
		return nil, nil
	}

	// One extra slot since the upload itself matches when it is reprocessed
	hits, err := sm.qdrant.SearchFingerprints(ctx, fingerprint, limit+1, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to search duplicates for %s: %w", documentID, err)
	}

	return excludeUpload(hits, documentID, uploadTimestamp, limit), nil
}

// excludeUpload converts search hits to duplicates, dropping the upload itself
func excludeUpload(hits []*FingerprintPoint, documentID string, uploadTimestamp time.Time, limit int) []Duplicate {
	duplicates := make([]Duplicate, 0, len(hits))

	for _, hit := range hits {
		if hit.DocumentID == documentID && hit.UploadTimestamp.Equal(uploadTimestamp) {
			continue
		}

		duplicates = append(duplicates, Duplicate{
			DocumentID:      hit.DocumentID,
			UploadTimestamp: hit.UploadTimestamp,
			Score:           hit.Score,
		})

		if limit > 0 && len(duplicates) == limit {
			break
		}
	}

	return duplicates
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

// sanitizeJSONForPostgres strips escapes that PostgreSQL JSONB rejects.
// \u0000 is removed; other control escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscapePattern.ReplaceAll(jsonBytes, []byte{})
	return controlEscapePattern.ReplaceAll(result, []byte(" "))
}
