package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/ratingrec/internal/validation"
	"github.com/temcen/ratingrec/pkg/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	// fetchErr is returned by the next failures calls, or forever when failures is negative.
	fetchErr error
	failures int
	fetches  int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches++
	if r.fetchErr != nil && r.failures != 0 {
		r.failures--
		r.mu.Unlock()
		return kafka.Message{}, r.fetchErr
	}
	if len(r.queue) == 0 {
		r.mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	r.mu.Unlock()
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *fakeReader) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }
func (r *fakeReader) Close() error              { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestBus(t *testing.T, reader *fakeReader, maxRetries int) (*MessageBus, *fakeWriter, *fakeWriter) {
	t.Helper()
	validator, err := validation.NewEmbeddedValidator()
	require.NoError(t, err)

	events, dlq := &fakeWriter{}, &fakeWriter{}
	bus := newMessageBus("recommendation-commands", "recommendation-events", events, reader, dlq,
		validator, maxRetries, time.Millisecond, testLogger())
	return bus, events, dlq
}

func TestPublishEvent(t *testing.T) {
	bus, events, _ := newTestBus(t, &fakeReader{}, 0)

	jobID := uuid.New()
	event := models.EngineEvent{
		Type:      models.EventModelReloaded,
		JobID:     &jobID,
		Model:     &models.ModelInfo{Ready: true, Version: 3, Users: 10},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, bus.PublishEvent(context.Background(), event))

	require.Len(t, events.messages, 1)
	msg := events.messages[0]
	assert.Equal(t, models.EventModelReloaded, string(msg.Key))

	var decoded models.EngineEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(3), decoded.Model.Version)
	assert.Equal(t, jobID, *decoded.JobID)

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, jobID.String(), headers["job_id"])
	assert.Equal(t, models.EventModelReloaded, headers["event_type"])
}

func TestPublishEvent_WriterError(t *testing.T) {
	bus, events, _ := newTestBus(t, &fakeReader{}, 0)
	events.err = errors.New("broker down")

	err := bus.PublishEvent(context.Background(), models.EngineEvent{Type: models.EventBatchFailed})
	assert.ErrorContains(t, err, "broker down")
}

func TestPublishEvent_RejectsInvalidEvent(t *testing.T) {
	bus, events, _ := newTestBus(t, &fakeReader{}, 0)

	err := bus.PublishEvent(context.Background(), models.EngineEvent{Type: "model_exploded", Timestamp: time.Now().UTC()})
	require.Error(t, err)
	assert.Empty(t, events.messages)
}

func TestConsumeCommands_FetchErrorsBackOff(t *testing.T) {
	t.Run("recovers after transient errors", func(t *testing.T) {
		reader := &fakeReader{
			fetchErr: errors.New("coordinator not available"),
			failures: 3,
			queue:    []kafka.Message{{Offset: 7, Value: []byte(`{"type":"reload"}`)}},
		}
		bus, _, _ := newTestBus(t, reader, 0)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var handled atomic.Int32
		go func() {
			_ = bus.ConsumeCommands(ctx, func(context.Context, models.EngineCommand) error {
				handled.Add(1)
				return nil
			})
		}()

		require.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, reader.committedCount())
	})

	t.Run("persistent errors do not spin", func(t *testing.T) {
		reader := &fakeReader{fetchErr: errors.New("broker unreachable"), failures: -1}
		bus, _, _ := newTestBus(t, reader, 0)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := bus.ConsumeCommands(ctx, func(context.Context, models.EngineCommand) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// Doubling from 1ms leaves room for only a handful of attempts in 100ms.
		assert.Less(t, reader.fetchCount(), 15)
	})
}

func TestConsumeCommands(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		failures   int
		maxRetries int
		wantCalls  int
		wantDLQ    bool
	}{
		{name: "reload succeeds", payload: `{"type":"reload"}`, wantCalls: 1},
		{name: "generate succeeds after retry", payload: `{"type":"generate","sample_users":5,"seed":7}`,
			failures: 1, maxRetries: 2, wantCalls: 2},
		{name: "retries exhausted", payload: `{"type":"reload"}`, failures: 10, maxRetries: 2,
			wantCalls: 3, wantDLQ: true},
		{name: "schema violation skips handler", payload: `{"type":"explode"}`, wantCalls: 0, wantDLQ: true},
		{name: "malformed json", payload: `{not json`, wantCalls: 0, wantDLQ: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{queue: []kafka.Message{{Offset: 41, Value: []byte(tt.payload)}}}
			bus, _, dlq := newTestBus(t, reader, tt.maxRetries)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			calls := 0
			var received models.EngineCommand
			handler := func(_ context.Context, cmd models.EngineCommand) error {
				calls++
				received = cmd
				if calls <= tt.failures {
					return errors.New("transient")
				}
				cancel()
				return nil
			}

			done := make(chan error, 1)
			go func() { done <- bus.ConsumeCommands(ctx, handler) }()

			if tt.wantCalls == 0 || tt.wantDLQ {
				require.Eventually(t, func() bool { return reader.committedCount() == 1 },
					time.Second, time.Millisecond)
				cancel()
			}

			select {
			case err := <-done:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(2 * time.Second):
				t.Fatal("consumer did not stop")
			}

			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, []int64{41}, reader.committed)
			if tt.wantDLQ {
				require.Len(t, dlq.messages, 1)
				var envelope map[string]interface{}
				require.NoError(t, json.Unmarshal(dlq.messages[0].Value, &envelope))
				assert.NotEmpty(t, envelope["error"])
			} else {
				assert.Empty(t, dlq.messages)
			}
			if tt.payload == `{"type":"generate","sample_users":5,"seed":7}` {
				require.NotNil(t, received.SampleUsers)
				assert.Equal(t, 5, *received.SampleUsers)
				assert.Equal(t, int64(7), *received.Seed)
			}
		})
	}
}
