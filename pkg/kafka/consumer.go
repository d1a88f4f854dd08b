package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BatchHandler processes a batch of messages. A returned error leaves the batch
// uncommitted and it is retried.
type BatchHandler func(ctx context.Context, msgs []*IncomingMessage) error

// DeadLetter receives a batch that kept failing after every retry
type DeadLetter func(ctx context.Context, msgs []*IncomingMessage) error

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// BatchSize caps the messages handed to the handler at once (default 64)
	BatchSize int
	// BatchWait is how long to wait to fill a batch after its first message (default 200ms)
	BatchWait time.Duration
	// MaxRetries before a failing batch is dead-lettered (default 5)
	MaxRetries int
}

// Consumer fetches messages in batches and commits a batch only after it was handled
type Consumer struct {
	reader     messageReader
	topic      string
	logger     ectologger.Logger
	handler    BatchHandler
	deadLetter DeadLetter
	batchSize  int
	batchWait  time.Duration
	maxRetries int
	backoff    time.Duration

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// NewConsumer creates a new Kafka consumer. deadLetter may be nil, in which case a batch
// that exhausts its retries stays uncommitted and the consumer stops.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler, deadLetter DeadLetter) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
	return newConsumer(reader, cfg, logger, handler, deadLetter)
}

func newConsumer(reader messageReader, cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler, deadLetter DeadLetter) *Consumer {
	c := &Consumer{
		reader:     reader,
		topic:      cfg.Topic,
		logger:     logger,
		handler:    handler,
		deadLetter: deadLetter,
		batchSize:  cfg.BatchSize,
		batchWait:  cfg.BatchWait,
		maxRetries: cfg.MaxRetries,
		backoff:    250 * time.Millisecond,
	}
	if c.batchSize < 1 {
		c.batchSize = 64
	}
	if c.batchWait <= 0 {
		c.batchWait = 200 * time.Millisecond
	}
	if c.maxRetries < 1 {
		c.maxRetries = 5
	}
	return c
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.topic,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.stopped.Store(true)

	for {
		batch, err := c.nextBatch(ctx)
		if len(batch) > 0 {
			if !c.processBatch(ctx, batch) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
		}
	}
}

// nextBatch blocks for one message, then collects more until the batch is full or
// batchWait has passed
func (c *Consumer) nextBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	batch := []kafka.Message{first}
	deadline := time.Now().Add(c.batchWait)
	for len(batch) < c.batchSize {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// processBatch hands the batch to the handler with retries and commits it. It reports
// false when the consumer must stop.
func (c *Consumer) processBatch(ctx context.Context, batch []kafka.Message) bool {
	incoming := make([]*IncomingMessage, len(batch))
	for i, msg := range batch {
		incoming[i] = toIncoming(msg)
	}

	// the batch span continues the trace of its first message
	ctx = tracing.ContextWithRemoteParent(ctx, incoming[0].TraceParent, incoming[0].TraceState)
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processBatch")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":        c.topic,
		"batch_size":   len(batch),
		"first_offset": batch[0].Offset,
	})

	wait := c.backoff
	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err = c.handler(ctx, incoming); err == nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Failed to process batch")
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
	}

	if err != nil {
		if c.deadLetter == nil {
			log.WithError(err).Error("Batch failed every retry and no dead letter topic is configured, stopping consumer")
			return false
		}
		if dlqErr := c.deadLetter(ctx, incoming); dlqErr != nil {
			log.WithError(dlqErr).Error("Failed to dead-letter batch, stopping consumer")
			return false
		}
		log.WithError(err).Error("Dead-lettered batch")
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		log.WithError(err).Error("Failed to commit batch")
	}
	return true
}

func toIncoming(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		Timestamp:   msg.Time,
		Topic:       msg.Topic,
		TraceParent: headers[HeaderTraceParent],
		TraceState:  headers[HeaderTraceState],
	}
}

// Health reports whether the consumer is running
func (c *Consumer) Health() bool {
	return c.cancel != nil && !c.stopped.Load()
}
