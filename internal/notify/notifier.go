/**
 * Processing Notifications
 *
 * Publishes a JSON status message for every finished or failed document.
 * Delivery is best effort: callers log failures and carry on.
 */

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
)

// Notification statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Notification subjects
const (
	SubjectProcessed = "Document Processed Successfully"
	SubjectFailed    = "Document Processing Failed"
)

// SNS rejects longer subjects
const maxSubjectLength = 100

// Notification is the message body sent to subscribers
type Notification struct {
	Subject    string    `json:"subject"`
	Message    string    `json:"message"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	DocumentID string    `json:"document_id,omitempty"`
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// SNSAPI is the subset of the SNS SDK client used for publishing
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes notifications to an SNS topic
type SNSNotifier struct {
	api      SNSAPI
	topicARN string
}

// NewSNSNotifier creates a notifier for the given topic
func NewSNSNotifier(cfg aws.Config, topicARN string) *SNSNotifier {
	return NewSNSNotifierWithAPI(sns.NewFromConfig(cfg), topicARN)
}

// NewSNSNotifierWithAPI wraps an existing SNS API implementation
func NewSNSNotifierWithAPI(api SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{api: api, topicARN: topicARN}
}

// Notify publishes the notification as indented JSON
func (s *SNSNotifier) Notify(ctx context.Context, n *Notification) error {
	body, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	subject := n.Subject
	if len(subject) > maxSubjectLength {
		subject = subject[:maxSubjectLength]
	}

	_, err = s.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
	})

	if err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", s.topicARN, err)
	}

	return nil
}

// RedisNotifier publishes notifications on a Redis pub/sub channel
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier creates a notifier for the given channel
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes the notification as compact JSON
func (r *RedisNotifier) Notify(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", r.channel, err)
	}

	return nil
}

// Multi fans a notification out to every notifier. All notifiers are tried;
// errors are joined.
type Multi []Notifier

// Notify delivers to each notifier in order
func (m Multi) Notify(ctx context.Context, n *Notification) error {
	var errs []error

	for _, notifier := range m {
		if notifier == nil {
			continue
		}

		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Processed builds the success notification for a document
func Processed(documentID, key string, fieldCount, tableCount int) *Notification {
	return &Notification{
		Subject: SubjectProcessed,
		Message: fmt.Sprintf("Document %s has been processed.\nDocument ID: %s\nFields extracted: %d\nTables found: %d",
			key, documentID, fieldCount, tableCount),
		Status:     StatusSuccess,
		Timestamp:  time.Now().UTC(),
		DocumentID: documentID,
	}
}

// Failed builds the failure notification for a document
func Failed(documentID string, cause error) *Notification {
	return &Notification{
		Subject:    SubjectFailed,
		Message:    fmt.Sprintf("Error processing document: %v", cause),
		Status:     StatusError,
		Timestamp:  time.Now().UTC(),
		DocumentID: documentID,
	}
}
