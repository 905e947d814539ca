/**
 * Qdrant Fingerprint Index for the Document Extraction Worker
 *
 * One point per document upload: the point id is derived from the document
 * id and upload timestamp, the payload carries both so search hits can be
 * mapped back to records. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	payloadDocumentID      = "document_id"
	payloadUploadTimestamp = "upload_timestamp"
	payloadIndexedAt       = "indexed_at"
)

// QdrantClient handles fingerprint storage and similarity search
type QdrantClient struct {
	points         qdrant.PointsClient
	collections    qdrant.CollectionsClient
	conn           *grpc.ClientConn
	collectionName string
	dimensions     int
}

// FingerprintPoint is the fingerprint of one document upload
type FingerprintPoint struct {
	DocumentID      string
	UploadTimestamp time.Time
	Vector          []float32

	// Score is set on search results
	Score float32
}

// NewQdrantClient connects to Qdrant and ensures the collection exists
func NewQdrantClient(ctx context.Context, address string, collectionName string, dimensions int) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		points:         qdrant.NewPointsClient(conn),
		collections:    qdrant.NewCollectionsClient(conn),
		conn:           conn,
		collectionName: collectionName,
		dimensions:     dimensions,
	}

	if err := qc.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.GetCollections() {
		if col.GetName() == q.collectionName {
			return nil
		}
	}

	// Fingerprints are L2-normalized, cosine distance
	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.collectionName, err)
	}

	return nil
}

// UpsertFingerprint stores the fingerprint, replacing an earlier one for the same upload
func (q *QdrantClient) UpsertFingerprint(ctx context.Context, fp *FingerprintPoint) error {
	if fp == nil || fp.DocumentID == "" {
		return fmt.Errorf("fingerprint with a document ID is required")
	}

	if len(fp.Vector) != q.dimensions {
		return fmt.Errorf("invalid fingerprint dimensions: expected %d, got %d", q.dimensions, len(fp.Vector))
	}

	wait := true

	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{
			{
				Id: &qdrant.PointId{
					PointIdOptions: &qdrant.PointId_Uuid{Uuid: FingerprintPointID(fp.DocumentID, fp.UploadTimestamp)},
				},
				Vectors: &qdrant.Vectors{
					VectorsOptions: &qdrant.Vectors_Vector{
						Vector: &qdrant.Vector{Data: fp.Vector},
					},
				},
				Payload: fingerprintPayload(fp),
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint: %w", err)
	}

	return nil
}

// SearchFingerprints returns the closest fingerprints scoring at least minScore
func (q *QdrantClient) SearchFingerprints(ctx context.Context, vector []float32, limit int, minScore float32) ([]*FingerprintPoint, error) {
	if len(vector) != q.dimensions {
		return nil, fmt.Errorf("invalid query dimensions: expected %d, got %d", q.dimensions, len(vector))
	}

	if limit <= 0 {
		limit = 10
	}

	req := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}

	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search fingerprints: %w", err)
	}

	hits := make([]*FingerprintPoint, 0, len(resp.GetResult()))

	for _, point := range resp.GetResult() {
		hit, ok := fingerprintFromPayload(point.GetPayload())
		if !ok {
			continue
		}

		hit.Score = point.GetScore()
		hits = append(hits, hit)
	}

	return hits, nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"points_count":    info.GetResult().GetPointsCount(),
		"status":          info.GetResult().GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func fingerprintPayload(fp *FingerprintPoint) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		payloadDocumentID: {
			Kind: &qdrant.Value_StringValue{StringValue: fp.DocumentID},
		},
		payloadUploadTimestamp: {
			Kind: &qdrant.Value_StringValue{StringValue: fp.UploadTimestamp.UTC().Format(time.RFC3339Nano)},
		},
		payloadIndexedAt: {
			Kind: &qdrant.Value_IntegerValue{IntegerValue: time.Now().Unix()},
		},
	}
}

// fingerprintFromPayload reads the upload identity back; points without a
// document id are not ours and are skipped
func fingerprintFromPayload(payload map[string]*qdrant.Value) (*FingerprintPoint, bool) {
	documentID := payload[payloadDocumentID].GetStringValue()
	if documentID == "" {
		return nil, false
	}

	fp := &FingerprintPoint{DocumentID: documentID}

	if ts, err := time.Parse(time.RFC3339Nano, payload[payloadUploadTimestamp].GetStringValue()); err == nil {
		fp.UploadTimestamp = ts
	}

	return fp, true
}
