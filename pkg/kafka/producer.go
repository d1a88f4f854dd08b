package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is stamped on every published message
const SchemaVersion = "1.0"

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON events. The topic is chosen per message.
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	var compression kafka.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
	default:
		compression = kafka.Snappy
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish marshals v and writes it to topic. Messages with the same key land on the
// same partition, so events about one entity stay ordered.
func (p *Producer) Publish(ctx context.Context, topic, key, eventType string, v any) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: p.headers(ctx, eventType),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":      topic,
			"event_type": eventType,
		}).Error("Failed to publish event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      topic,
		"event_type": eventType,
		"key":        key,
	}).Debug("Published event")
	return nil
}

// Forward writes already-encoded messages to topic unchanged, keeping their keys and
// headers. It is used for dead-lettering.
func (p *Producer) Forward(ctx context.Context, topic string, msgs ...*IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Forward")
	defer span.End()

	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		headers := make([]kafka.Header, 0, len(m.Headers)+1)
		for k, v := range m.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		headers = append(headers, kafka.Header{Key: HeaderOriginalTopic, Value: []byte(m.Topic)})
		out = append(out, kafka.Message{Topic: topic, Key: []byte(m.Key), Value: m.Value, Headers: headers})
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic": topic,
			"count": len(msgs),
		}).Error("Failed to forward messages")
		return err
	}
	return nil
}

func (p *Producer) headers(ctx context.Context, eventType string) []kafka.Header {
	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(eventType)},
		{Key: HeaderSchemaVersion, Value: []byte(SchemaVersion)},
	}
	if tp := tracing.GetTraceParent(ctx); tp != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceParent, Value: []byte(tp)})
	}
	if ts := tracing.GetTraceState(ctx); ts != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceState, Value: []byte(ts)})
	}
	return headers
}
