package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeReader serves queued messages, then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Topic: "raw.candidates", Offset: int64(i), Value: []byte(`{}`)}
	}
	return out
}

func TestConsumer_BatchesAndCommits(t *testing.T) {
	reader := &fakeReader{queue: messages(5)}
	var mu sync.Mutex
	var sizes []int
	handler := func(_ context.Context, msgs []*IncomingMessage) error {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(msgs))
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{Topic: "raw.candidates", BatchSize: 2, BatchWait: 20 * time.Millisecond}, testLogger(), handler, nil)
	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, c.Health())
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.commits())
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	reader := &fakeReader{queue: messages(1)}
	attempts := 0
	handler := func(context.Context, []*IncomingMessage) error {
		attempts++
		return errors.New("database down")
	}
	var dead []*IncomingMessage
	deadLetter := func(_ context.Context, msgs []*IncomingMessage) error {
		dead = append(dead, msgs...)
		return nil
	}

	c := newConsumer(reader, ConsumerConfig{MaxRetries: 3}, testLogger(), handler, deadLetter)
	c.backoff = time.Millisecond

	ok := c.processBatch(context.Background(), messages(1))
	assert.True(t, ok)
	assert.Equal(t, 3, attempts)
	assert.Len(t, dead, 1)
	assert.Equal(t, []int64{0}, reader.commits())
}

func TestConsumer_StopsWithoutDeadLetter(t *testing.T) {
	reader := &fakeReader{}
	handler := func(context.Context, []*IncomingMessage) error { return errors.New("database down") }

	c := newConsumer(reader, ConsumerConfig{MaxRetries: 2}, testLogger(), handler, nil)
	c.backoff = time.Millisecond

	assert.False(t, c.processBatch(context.Background(), messages(1)))
	assert.Empty(t, reader.commits())
}

func TestIncomingMessage_ParseEnvelope(t *testing.T) {
	t.Run("BodyFields", func(t *testing.T) {
		m := &IncomingMessage{Value: []byte(`{"kind":"person","source_system":"clinichq","source_record_id":"42","payload":{"Owner First Name":"Ann"}}`)}
		env, err := m.ParseEnvelope()
		require.NoError(t, err)
		assert.Equal(t, "person", string(env.Kind))
		assert.Equal(t, "clinichq", env.SourceSystem)
		assert.Equal(t, "42", env.SourceRecordID)
		assert.JSONEq(t, `{"Owner First Name":"Ann"}`, string(env.Payload))
	})

	t.Run("HeadersAndKeyFillGaps", func(t *testing.T) {
		m := &IncomingMessage{
			Key:     "rec-7",
			Value:   []byte(`{"payload":{"a":"b"}}`),
			Headers: map[string]string{HeaderKind: "animal", HeaderSourceSystem: "airtable"},
		}
		env, err := m.ParseEnvelope()
		require.NoError(t, err)
		assert.Equal(t, "animal", string(env.Kind))
		assert.Equal(t, "airtable", env.SourceSystem)
		assert.Equal(t, "rec-7", env.SourceRecordID)
	})

	t.Run("MissingPayload", func(t *testing.T) {
		_, err := (&IncomingMessage{Value: []byte(`{"kind":"person"}`)}).ParseEnvelope()
		assert.Error(t, err)
	})

	t.Run("NotJSON", func(t *testing.T) {
		_, err := (&IncomingMessage{Value: []byte(`nope`)}).ParseEnvelope()
		assert.Error(t, err)
	})
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	require.NoError(t, p.Publish(context.Background(), "entity.merged", "e-1", "entity.merged", map[string]string{"canonical_id": "e-1"}))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "entity.merged", msg.Topic)
	assert.Equal(t, "e-1", string(msg.Key))

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "e-1", body["canonical_id"])

	headers := toIncoming(msg).Headers
	assert.Equal(t, "entity.merged", headers[HeaderEventType])
	assert.Equal(t, SchemaVersion, headers[HeaderSchemaVersion])

	t.Run("WriteError", func(t *testing.T) {
		p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: testLogger()}
		assert.Error(t, p.Publish(context.Background(), "t", "k", "e", struct{}{}))
	})

	t.Run("Forward", func(t *testing.T) {
		w := &fakeWriter{}
		p := &Producer{writer: w, logger: testLogger()}
		in := &IncomingMessage{Key: "k", Value: []byte(`{}`), Topic: "raw.candidates", Headers: map[string]string{"a": "b"}}
		require.NoError(t, p.Forward(context.Background(), "raw.candidates.dlq", in))
		require.Len(t, w.msgs, 1)
		headers := toIncoming(w.msgs[0]).Headers
		assert.Equal(t, "raw.candidates", headers[HeaderOriginalTopic])
		assert.Equal(t, "b", headers["a"])
	})
}
