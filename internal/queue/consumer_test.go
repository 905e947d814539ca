package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	docerrors "github.com/adverant/nexus/docextract-worker/internal/errors"
	"github.com/adverant/nexus/docextract-worker/internal/logging"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

func TestRetryDelay(t *testing.T) {
	task := asynq.NewTask(TaskDocumentArrived, nil)

	assert.Equal(t, 5*time.Second, retryDelay(0, nil, task))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, task))
	assert.Equal(t, 60*time.Second, retryDelay(10, nil, task))
	assert.Equal(t, 60*time.Second, retryDelay(80, nil, task))
}

func TestNewArrivalTask(t *testing.T) {
	event, err := ParseS3Event([]byte(sampleEvent))
	require.NoError(t, err)

	task, err := NewArrivalTask(event.Records[0], 3)
	require.NoError(t, err)

	assert.Equal(t, TaskDocumentArrived, task.Type())

	var record S3EventRecord
	require.NoError(t, json.Unmarshal(task.Payload(), &record))
	assert.Equal(t, event.Records[0].S3, record.S3)
}

func newTaskConsumer(p processor.DocumentProcessorInterface) *Consumer {
	return &Consumer{
		processor: p,
		config:    &ConsumerConfig{QueueName: "docextract:jobs", MaxRetries: 3},
		logger:    logging.NewLogger("queue"),
	}
}

func arrivalTask(t *testing.T) *asynq.Task {
	t.Helper()

	event, err := ParseS3Event([]byte(sampleEvent))
	require.NoError(t, err)

	task, err := NewArrivalTask(event.Records[0], 3)
	require.NoError(t, err)

	return task
}

func TestHandleDocumentArrived(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{"completed", nil, false},
		{"transient", docerrors.NewRecognitionFailedError("inv_1", "textract", errors.New("throttled")), false},
		{"malformed", docerrors.NewMalformedInputError("inv_1", processor.ErrMalformedInput), true},
		{"unsupported", docerrors.NewUnsupportedFormatError("inv_1", "incoming/notes.docx", nil), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProcessor{err: tc.err}

			err := newTaskConsumer(p).handleDocumentArrived(context.Background(), arrivalTask(t))
			assert.Equal(t, 1, p.calls())

			if tc.err == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestHandleDocumentArrivedRejectsBadPayloads(t *testing.T) {
	p := &fakeProcessor{}
	c := newTaskConsumer(p)

	err := c.handleDocumentArrived(context.Background(), asynq.NewTask(TaskDocumentArrived, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	payload := []byte(`{"s3": {"bucket": {"name": "invoices"}, "object": {"key": "incoming/%zz.pdf"}}}`)
	err = c.handleDocumentArrived(context.Background(), asynq.NewTask(TaskDocumentArrived, payload))
	require.ErrorIs(t, err, asynq.SkipRetry)

	assert.Zero(t, p.calls())
}
