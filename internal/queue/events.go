/**
 * Arrival events
 *
 * Documents arrive as S3 event notifications. Every record in a
 * notification becomes one job.
 */

package queue

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

// S3EventNotification is the body S3 sends for object events
type S3EventNotification struct {
	Records []S3EventRecord `json:"Records"`
}

// S3EventRecord describes one object event
type S3EventRecord struct {
	EventSource string    `json:"eventSource,omitempty"`
	EventName   string    `json:"eventName,omitempty"`
	EventTime   time.Time `json:"eventTime"`
	S3          S3Entity  `json:"s3"`
}

// S3Entity holds the bucket and object of an event
type S3Entity struct {
	Bucket S3Bucket `json:"bucket"`
	Object S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
}

// S3Object carries the key exactly as S3 sends it (URL-encoded)
type S3Object struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ParseS3Event decodes a notification body; a body without records is an error
func ParseS3Event(data []byte) (*S3EventNotification, error) {
	var event S3EventNotification

	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode S3 event: %w", err)
	}

	if len(event.Records) == 0 {
		return nil, fmt.Errorf("S3 event has no records")
	}

	for i, record := range event.Records {
		if record.S3.Bucket.Name == "" || record.S3.Object.Key == "" {
			return nil, fmt.Errorf("S3 event record %d is missing bucket or key", i)
		}
	}

	return &event, nil
}

// DecodedKey returns the object key with S3's form encoding removed
func (r *S3EventRecord) DecodedKey() (string, error) {
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		return "", fmt.Errorf("invalid object key %q: %w", r.S3.Object.Key, err)
	}
	return key, nil
}

// ToProcessRequest converts the record into a processing request
func (r *S3EventRecord) ToProcessRequest(jobID string) (*processor.ProcessRequest, error) {
	key, err := r.DecodedKey()
	if err != nil {
		return nil, err
	}

	return &processor.ProcessRequest{
		JobID:     jobID,
		Bucket:    r.S3.Bucket.Name,
		Key:       key,
		Size:      r.S3.Object.Size,
		EventTime: r.EventTime,
	}, nil
}
