package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/rs/zerolog"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = time.Second
	maxRetry             = 5
)

// injectable for tests
var (
	newSyncProducer  = sarama.NewSyncProducer
	newConsumerGroup = sarama.NewConsumerGroup
)

// ConsumerConfig describes where market snapshots are read from
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	return c
}

// BazaarPullHandler processes one decoded snapshot
type BazaarPullHandler func(ctx context.Context, pull *core.BazaarPull) error

// QueueMessageConsumer reads BazaarPull snapshots from a Kafka consumer group
// and hands them out in batches
type QueueMessageConsumer struct {
	group  sarama.ConsumerGroup
	cfg    ConsumerConfig
	logger zerolog.Logger
}

// NewQueueMessageConsumer joins the configured consumer group
func NewQueueMessageConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*QueueMessageConsumer, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("%w: brokers, topic and group id are required", core.ErrInvalidArgument)
	}

	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := newConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &QueueMessageConsumer{group: group, cfg: cfg, logger: logger}, nil
}

// ConsumeBazaarPulls blocks consuming snapshots until ctx is done or the
// group is closed. Each rebalance re-enters Consume.
func (c *QueueMessageConsumer) ConsumeBazaarPulls(ctx context.Context, handler BazaarPullHandler) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error().Err(err).Msg("Kafka consumer group error")
		}
	}()

	h := &batchHandler{
		batchSize:     c.cfg.BatchSize,
		flushInterval: c.cfg.FlushInterval,
		handle:        handler,
		logger:        c.logger,
	}
	for {
		if err := c.group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group
func (c *QueueMessageConsumer) Close() error {
	return c.group.Close()
}

// batchHandler implements sarama.ConsumerGroupHandler
type batchHandler struct {
	batchSize     int
	flushInterval time.Duration
	handle        BazaarPullHandler
	logger        zerolog.Logger
}

func (h *batchHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *batchHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim collects messages until the batch is full or the flush
// interval passes, then processes the batch and marks its offsets.
func (h *batchHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	batch := make([]*sarama.ConsumerMessage, 0, h.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		h.process(sess.Context(), batch)
		sess.MarkMessage(batch[len(batch)-1], "")
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, msg)
			if len(batch) >= h.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-sess.Context().Done():
			flush()
			return nil
		}
	}
}

func (h *batchHandler) process(ctx context.Context, batch []*sarama.ConsumerMessage) {
	for _, pull := range DecodeBazaarPulls(batch, h.logger) {
		if err := h.handle(ctx, pull); err != nil {
			h.logger.Error().Err(err).Time("timestamp", pull.Timestamp).Msg("Failed to handle bazaar pull")
		}
	}
}

// DecodeBazaarPulls decodes a batch in order. Undecodable messages are logged
// and skipped.
func DecodeBazaarPulls(msgs []*sarama.ConsumerMessage, logger zerolog.Logger) []*core.BazaarPull {
	pulls := make([]*core.BazaarPull, 0, len(msgs))
	for _, msg := range msgs {
		var pull core.BazaarPull
		if err := json.Unmarshal(msg.Value, &pull); err != nil {
			logger.Warn().
				Err(err).
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Skipping undecodable bazaar pull")
			continue
		}
		pulls = append(pulls, &pull)
	}
	return pulls
}

// BazaarPullPublisher writes snapshots to the topic the consumer reads
type BazaarPullPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewBazaarPullPublisher connects a synchronous producer
func NewBazaarPullPublisher(brokers []string, topic string) (*BazaarPullPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = maxRetry

	producer, err := newSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return &BazaarPullPublisher{producer: producer, topic: topic}, nil
}

// Publish sends one snapshot keyed by its timestamp
func (p *BazaarPullPublisher) Publish(pull *core.BazaarPull) error {
	data, err := json.Marshal(pull)
	if err != nil {
		return fmt.Errorf("failed to marshal bazaar pull: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(pull.Timestamp.UnixMilli(), 10)),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send bazaar pull to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer
func (p *BazaarPullPublisher) Close() error {
	return p.producer.Close()
}
