package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
)

// KafkaPublisher implements Publisher over kafka-go writers, one lazily
// created writer per binding. The binding name is the topic name,
// optionally prefixed.
type KafkaPublisher struct {
	brokers []string
	prefix  string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	logger  zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the given bootstrap brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		prefix:  topicPrefix,
		writers: make(map[string]*kafka.Writer),
		logger:  log.WithComponent("kafka-publisher"),
	}
}

func (p *KafkaPublisher) writer(binding string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.writers[binding]
	if !ok {
		w = &kafka.Writer{
			Addr:  kafka.TCP(p.brokers...),
			Topic: p.prefix + binding,
			// Hash balancing keeps one aggregate on one partition,
			// which is what preserves per-aggregate order downstream.
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		}
		p.writers[binding] = w
	}
	return w
}

// Publish sends one message keyed by the aggregate identifier.
func (p *KafkaPublisher) Publish(ctx context.Context, binding, key string, value []byte, headers ...Header) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
	for _, h := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}

	if err := p.writer(binding).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", binding, err)
	}
	return nil
}

// Close closes all writers.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.writers = make(map[string]*kafka.Writer)
	return firstErr
}

// ConsumerConfig configures a KafkaConsumer.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Binding     string
	TopicPrefix string
	// MaxAttempts is how many times the handler runs before the message
	// is forwarded to the dead-letter topic. Zero means 3.
	MaxAttempts int
}

// KafkaConsumer reads one binding with a consumer group and drives a
// Handler, forwarding poison messages to `<topic>.dlq` after the
// attempt budget. Partitions are processed sequentially, which is the
// third leg of the per-aggregate ordering guarantee.
type KafkaConsumer struct {
	cfg    ConsumerConfig
	reader *kafka.Reader
	dlq    *kafka.Writer
	handle Handler
	logger zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKafkaConsumer creates a consumer for one binding.
func NewKafkaConsumer(cfg ConsumerConfig, handler Handler) *KafkaConsumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	topic := cfg.TopicPrefix + cfg.Binding

	return &KafkaConsumer{
		cfg: cfg,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10 << 20,
			MaxWait:  500 * time.Millisecond,
		}),
		dlq: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic + ".dlq",
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		handle: handler,
		logger: log.WithComponent("consumer-" + cfg.Binding),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the consume loop
func (c *KafkaConsumer) Start() {
	go c.run()
}

// Stop stops the consumer and waits for the loop to exit.
func (c *KafkaConsumer) Stop() {
	close(c.stopCh)
	<-c.doneCh
	_ = c.reader.Close()
	_ = c.dlq.Close()
}

func (c *KafkaConsumer) run() {
	defer close(c.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	c.logger.Info().Str("group", c.cfg.GroupID).Msg("Consumer started")

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("Consumer stopped")
				return
			}
			c.logger.Error().Err(err).Msg("Fetch failed")
			continue
		}

		msg := &Message{
			Binding: c.cfg.Binding,
			Key:     string(km.Key),
			Value:   km.Value,
		}
		for _, h := range km.Headers {
			msg.Headers = append(msg.Headers, Header{Key: h.Key, Value: string(h.Value)})
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// Handler exhausted its budget and the DLQ write failed
			// too; leave the offset uncommitted so the broker
			// redelivers after restart.
			c.logger.Error().Err(err).Str("key", msg.Key).Msg("Message abandoned uncommitted")
			continue
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Offset commit failed")
		}
	}
}

// process runs the handler with in-process retries, then dead-letters.
func (c *KafkaConsumer) process(ctx context.Context, msg *Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if lastErr = c.handle(ctx, msg); lastErr == nil {
			metrics.EventsConsumedTotal.WithLabelValues(c.cfg.Binding, "ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn().
			Err(lastErr).
			Str("key", msg.Key).
			Int("attempt", attempt).
			Msg("Handler failed")

		// Exponential backoff between in-process attempts.
		select {
		case <-time.After(time.Duration(1<<(attempt-1)) * 500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	metrics.EventsConsumedTotal.WithLabelValues(c.cfg.Binding, "error").Inc()
	return c.deadLetter(ctx, msg, lastErr)
}

// deadLetter forwards the original payload untouched, with diagnostic
// headers, so operators can inspect and replay.
func (c *KafkaConsumer) deadLetter(ctx context.Context, msg *Message, cause error) error {
	out := kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "x-origin-binding", Value: []byte(c.cfg.Binding)},
			{Key: "x-error", Value: []byte(cause.Error())},
			{Key: "x-attempts", Value: []byte(strconv.Itoa(c.cfg.MaxAttempts))},
		},
	}
	for _, h := range msg.Headers {
		out.Headers = append(out.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}

	if err := c.dlq.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}

	metrics.DeadLetteredTotal.WithLabelValues(c.cfg.Binding).Inc()
	c.logger.Error().
		Err(cause).
		Str("key", msg.Key).
		Msg("Message moved to dead-letter topic")
	return nil
}
