/**
 * S3 Client for the Document Extraction Worker
 *
 * Reads arriving documents and moves them from incoming/ to processed/
 * once their record is saved.
 */

package clients

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	IncomingPrefix  = "incoming/"
	ProcessedPrefix = "processed/"
)

// S3API is the subset of the S3 SDK client used by the worker
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Client handles blob operations on the document bucket
type S3Client struct {
	api S3API
}

// NewS3Client creates a new S3 client from an AWS config
func NewS3Client(cfg aws.Config) *S3Client {
	return &S3Client{api: s3.NewFromConfig(cfg)}
}

// NewS3ClientWithAPI wraps an existing S3 API implementation
func NewS3ClientWithAPI(api S3API) *S3Client {
	return &S3Client{api: api}
}

// Fetch downloads an object. Objects larger than maxBytes are rejected when
// maxBytes is positive.
func (c *S3Client) Fetch(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("bucket and key are required")
	}

	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}

	defer resp.Body.Close()

	reader := io.Reader(resp.Body)

	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("object s3://%s/%s exceeds %d bytes", bucket, key, maxBytes)
	}

	return data, nil
}

// ProcessedKey maps an incoming/ key onto processed/. Keys without an
// incoming/ segment are returned unchanged with ok=false.
func ProcessedKey(key string) (string, bool) {
	if !strings.Contains(key, IncomingPrefix) {
		return key, false
	}
	return strings.ReplaceAll(key, IncomingPrefix, ProcessedPrefix), true
}

// MoveToProcessed copies the object under processed/ and deletes the original.
// It returns the new key, or an empty string when the key is not under incoming/.
func (c *S3Client) MoveToProcessed(ctx context.Context, bucket, key string) (string, error) {
	newKey, ok := ProcessedKey(key)
	if !ok {
		return "", nil
	}

	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(copySource(bucket, key)),
	})

	if err != nil {
		return "", fmt.Errorf("failed to copy %s to %s: %w", key, newKey, err)
	}

	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	if err != nil {
		return "", fmt.Errorf("failed to delete %s after copy: %w", key, err)
	}

	return newKey, nil
}

// copySource builds the URL-encoded "bucket/key" form CopyObject expects
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
