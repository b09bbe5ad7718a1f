package kafka

import (
	"context"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/db/queue"
	"github.com/rs/zerolog"
)

// PullHandler receives each decoded market snapshot
type PullHandler interface {
	BazaarPull(ctx context.Context, pull *core.BazaarPull)
}

// SetupConsumer initializes and starts the Kafka consumer feeding market
// snapshots into handler
func SetupConsumer(ctx context.Context, cfg queue.ConsumerConfig, handler PullHandler, logger zerolog.Logger) (*queue.QueueMessageConsumer, error) {
	kafkaConsumer, err := queue.NewQueueMessageConsumer(cfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to create Kafka consumer - continuing without Kafka support")
		return nil, err
	}

	go func() {
		logger.Info().
			Str("topic", cfg.Topic).
			Str("group_id", cfg.GroupID).
			Int("batch_size", cfg.BatchSize).
			Msg("Starting Kafka consumer")
		err := kafkaConsumer.ConsumeBazaarPulls(ctx, func(ctx context.Context, pull *core.BazaarPull) error {
			logger.Debug().
				Time("timestamp", pull.Timestamp).
				Int("products", len(pull.Products)).
				Msg("Received bazaar pull")
			handler.BazaarPull(ctx, pull)
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	return kafkaConsumer, nil
}
