package mqtt_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/respiria-backend/internal/mqtt"
	"github.com/nyashahama/respiria-backend/internal/worker"
)

type stubEnqueuer struct {
	tasks []worker.Task
	err   error
}

func (e *stubEnqueuer) Enqueue(_ context.Context, t worker.Task) error {
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, t)
	return nil
}

func newHandler(enq worker.Enqueuer) *mqtt.ReadingHandler {
	return mqtt.NewReadingHandler("respira/+/reading", enq, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ─── Topics ───────────────────────────────────────────────────────────────────

func TestUserFromTopic(t *testing.T) {
	tests := []struct {
		filter, topic, want string
	}{
		{"respira/+/reading", "respira/user123/reading", "user123"},
		{"home/+/respira/+/reading", "home/abidjan/respira/u9/reading", "abidjan"},
		{"respira/reading", "respira/reading", ""},
		{"respira/+/reading", "respira", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mqtt.UserFromTopic(tt.filter, tt.topic), "%s ~ %s", tt.filter, tt.topic)
	}
}

func TestAssessmentTopic(t *testing.T) {
	const tmpl = "respira/{user_id}/assessment"
	assert.Equal(t, "respira/user123/assessment", mqtt.AssessmentTopic(tmpl, "user123"))
	assert.Equal(t, "respira/unknown/assessment", mqtt.AssessmentTopic(tmpl, ""))
	assert.Equal(t, "respira/a-b-c-/assessment", mqtt.AssessmentTopic(tmpl, "a/b+c#"))
}

// ─── ReadingHandler ───────────────────────────────────────────────────────────

func TestHandle_UserIDFromTopicWhenAbsent(t *testing.T) {
	enq := &stubEnqueuer{}
	err := newHandler(enq).Handle("respira/dev42/reading", []byte(`{"co2": 900, "humidity": 35.5}`))
	require.NoError(t, err)

	require.Len(t, enq.tasks, 1)
	task := enq.tasks[0]
	assert.Equal(t, "dev42", task.UserID)
	assert.Equal(t, "dev42", task.Reading.UserIDOr(""))
	require.NotNil(t, task.Reading.CO2)
	assert.Equal(t, 900.0, *task.Reading.CO2)
}

func TestHandle_PayloadUserIDWins(t *testing.T) {
	enq := &stubEnqueuer{}
	require.NoError(t, newHandler(enq).Handle("respira/dev42/reading", []byte(`{"user_id": "amina"}`)))
	assert.Equal(t, "amina", enq.tasks[0].UserID)
}

func TestHandle_IgnoresUnknownFields(t *testing.T) {
	enq := &stubEnqueuer{}
	require.NoError(t, newHandler(enq).Handle("respira/dev42/reading", []byte(`{"co2": 500, "firmware": "1.2.0"}`)))
	assert.Len(t, enq.tasks, 1)
}

func TestHandle_Rejects(t *testing.T) {
	enq := &stubEnqueuer{}
	h := newHandler(enq)

	assert.Error(t, h.Handle("respira/dev42/reading", []byte(`not json`)))
	assert.Error(t, h.Handle("respira/dev42/reading", []byte(`{"co2": "high"}`)))
	assert.Empty(t, enq.tasks)
}

func TestHandle_QueueFullIsReported(t *testing.T) {
	enq := &stubEnqueuer{err: worker.ErrQueueFull}
	err := newHandler(enq).Handle("respira/dev42/reading", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, worker.ErrQueueFull))
}

func TestPublishAssessment_NotConnected(t *testing.T) {
	c := mqtt.NewClient(mqtt.Config{AssessmentTopic: "respira/{user_id}/assessment"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := c.PublishAssessment(context.Background(), "u1", []byte(`{}`))
	assert.ErrorIs(t, err, mqtt.ErrNotConnected)
	assert.False(t, c.IsConnected())
}

func TestPublishAssessment_ConcurrentWithConnect(t *testing.T) {
	c := mqtt.NewClient(mqtt.Config{
		Broker:          "tcp://127.0.0.1:1",
		ClientID:        "respira-test",
		ReadingTopic:    "respira/+/reading",
		AssessmentTopic: "respira/{user_id}/assessment",
		ConnectTimeout:  2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := c.PublishAssessment(context.Background(), "u1", []byte(`{}`)); !errors.Is(err, mqtt.ErrNotConnected) {
					t.Errorf("PublishAssessment: got %v, want ErrNotConnected", err)
					return
				}
				_ = c.IsConnected()
			}
		}()
	}

	err := c.Connect(func(string, []byte) error { return nil })
	close(stop)
	wg.Wait()

	require.Error(t, err, "nothing listens on port 1")
	assert.False(t, c.IsConnected())
}
