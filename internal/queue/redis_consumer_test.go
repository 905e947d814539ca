package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	docerrors "github.com/adverant/nexus/docextract-worker/internal/errors"
	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []*processor.ProcessRequest
	err      error
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if f.err != nil {
		return nil, f.err
	}

	return &processor.ProcessResult{
		DocumentID:      processor.GenerateDocumentID(req.Key, req.EventTime),
		UploadTimestamp: req.EventTime,
		FieldCount:      3,
	}, nil
}

func (f *fakeProcessor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func startRedis(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}

	ctx := context.Background()

	server, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,

		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
	})

	require.NoError(t, err)
	t.Cleanup(func() { server.Terminate(context.Background()) })

	endpoint, err := server.Endpoint(ctx, "")
	require.NoError(t, err)

	return "redis://" + endpoint
}

func newTestConsumer(t *testing.T, url string, p processor.DocumentProcessorInterface, maxRetries int) *RedisConsumer {
	t.Helper()

	consumer, err := NewRedisConsumer(&RedisConsumerConfig{
		RedisURL:    url,
		QueueName:   fmt.Sprintf("test:%s", t.Name()),
		Concurrency: 1,
		MaxRetries:  maxRetries,
		Processor:   p,
		PollTimeout: time.Second,
	})
	require.NoError(t, err)

	return consumer
}

func TestRedisConsumerProcessesEvent(t *testing.T) {
	url := startRedis(t)
	p := &fakeProcessor{}
	consumer := newTestConsumer(t, url, p, 0)

	ctx := context.Background()
	client := consumer.Client()

	events := client.Subscribe(ctx, consumer.key("events"))
	defer events.Close()
	_, err := events.Receive(ctx)
	require.NoError(t, err)

	event, err := ParseS3Event([]byte(sampleEvent))
	require.NoError(t, err)

	ids, err := consumer.Enqueue(ctx, event)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, consumer.Start())

	require.Eventually(t, func() bool {
		return client.SIsMember(ctx, consumer.key("completed"), ids[0]).Val()
	}, 10*time.Second, 50*time.Millisecond)

	msg, err := events.ReceiveMessage(ctx)
	require.NoError(t, err)

	var published map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &published))
	assert.Equal(t, "job:processing", published["event"])
	assert.Equal(t, ids[0], published["jobId"])

	require.NoError(t, consumer.Stop())

	require.Equal(t, 1, p.calls())
	assert.Equal(t, "incoming/March invoice(2).pdf", p.requests[0].Key)
}

func TestRedisConsumerRetriesThenFails(t *testing.T) {
	url := startRedis(t)
	p := &fakeProcessor{err: errors.New("recognition failed")}
	consumer := newTestConsumer(t, url, p, 2)

	ctx := context.Background()

	event, err := ParseS3Event([]byte(sampleEvent))
	require.NoError(t, err)

	ids, err := consumer.Enqueue(ctx, event)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, consumer.processNextJob(ctx))
	}

	assert.ErrorIs(t, consumer.processNextJob(ctx), errNoJobs)
	assert.Equal(t, 3, p.calls())

	client := consumer.Client()
	assert.True(t, client.SIsMember(ctx, consumer.key("failed"), ids[0]).Val())
	assert.False(t, client.SIsMember(ctx, consumer.key("processing"), ids[0]).Val())

	stats, err := consumer.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["failed"])
	assert.Equal(t, int64(0), stats["waiting"])

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(client.HGet(ctx, consumer.key("errors"), ids[0]).Val()), &details))
	assert.Equal(t, float64(3), details["attempts"])

	require.NoError(t, consumer.Stop())
}

func TestRedisConsumerRejectsCorruptPayload(t *testing.T) {
	url := startRedis(t)
	consumer := newTestConsumer(t, url, &fakeProcessor{}, 0)

	ctx := context.Background()
	client := consumer.Client()

	require.NoError(t, client.HSet(ctx, consumer.key("data"), "broken", "{").Err())
	require.NoError(t, client.LPush(ctx, consumer.QueueName(), "broken").Err())

	require.Error(t, consumer.processNextJob(ctx))
	assert.True(t, client.SIsMember(ctx, consumer.key("failed"), "broken").Val())

	require.NoError(t, consumer.Stop())
}

func TestNewRedisConsumerValidation(t *testing.T) {
	_, err := NewRedisConsumer(&RedisConsumerConfig{Processor: &fakeProcessor{}})
	assert.Error(t, err)

	_, err = NewRedisConsumerWithClient(redis.NewClient(&redis.Options{}), &RedisConsumerConfig{})
	assert.Error(t, err)
}

// lpushOutage fails every pipeline that pushes onto a list
type lpushOutage struct{}

func (lpushOutage) DialHook(next redis.DialHook) redis.DialHook { return next }

func (lpushOutage) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (lpushOutage) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if cmd.Name() == "lpush" {
				return errors.New("connection reset by peer")
			}
		}
		return next(ctx, cmds)
	}
}

func TestRedisConsumerRequeueFailureMarksJobFailed(t *testing.T) {
	url := startRedis(t)
	p := &fakeProcessor{err: errors.New("throttled")}
	consumer := newTestConsumer(t, url, p, 3)

	ctx := context.Background()

	event, err := ParseS3Event([]byte(sampleEvent))
	require.NoError(t, err)

	ids, err := consumer.Enqueue(ctx, event)
	require.NoError(t, err)

	client := consumer.Client()
	client.AddHook(lpushOutage{})

	err = consumer.processNextJob(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to re-queue job "+ids[0])

	assert.True(t, client.SIsMember(ctx, consumer.key("failed"), ids[0]).Val())
	assert.False(t, client.SIsMember(ctx, consumer.key("processing"), ids[0]).Val())

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(client.HGet(ctx, consumer.key("errors"), ids[0]).Val()), &details))
	assert.Contains(t, details["requeue_error"], "connection reset by peer")
	assert.Contains(t, details["error"], "throttled")
	assert.Equal(t, float64(1), details["attempts"])

	require.NoError(t, consumer.Stop())
}

func TestRedisConsumerDoesNotRetryPermanentFailures(t *testing.T) {
	url := startRedis(t)
	p := &fakeProcessor{err: docerrors.NewUnsupportedFormatError("notes_20240301123045_0a1b2c3d", "incoming/notes.docx", nil)}
	consumer := newTestConsumer(t, url, p, 3)

	ctx := context.Background()

	event, err := ParseS3Event([]byte(sampleEvent))
	require.NoError(t, err)

	ids, err := consumer.Enqueue(ctx, event)
	require.NoError(t, err)

	require.NoError(t, consumer.processNextJob(ctx))
	assert.ErrorIs(t, consumer.processNextJob(ctx), errNoJobs)
	assert.Equal(t, 1, p.calls())

	client := consumer.Client()
	assert.True(t, client.SIsMember(ctx, consumer.key("failed"), ids[0]).Val())

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(client.HGet(ctx, consumer.key("errors"), ids[0]).Val()), &details))
	assert.Equal(t, true, details["permanent"])

	require.NoError(t, consumer.Stop())
}
