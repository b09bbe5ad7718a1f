package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

var defaultOptions = &RedisOptions{
	Addr:     "localhost:6379",
	Password: "",
	DB:       0,
}

// SetDefaultRedisOptions sets the default options for Redis connections
func SetDefaultRedisOptions(options *RedisOptions) {
	defaultOptions = options
}

// GetRedisClient creates a new Redis client using the default options
func GetRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     defaultOptions.Addr,
		Password: defaultOptions.Password,
		DB:       defaultOptions.DB,
	})
}

const (
	scanBatch       = 500
	maxWatchRetries = 5
)

// RedisBackend persists tracked orders as JSON values, one key per order.
// Keys expire on their own once the order TTL has passed.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisBackend creates a new instance of RedisBackend
func NewRedisBackend(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (b *RedisBackend) getOrderKey(itemID, userID string, ts time.Time) string {
	return fmt.Sprintf("%s:order:%s:%d:%s", b.keyPrefix, itemID, ts.UnixNano(), userID)
}

func (b *RedisBackend) scanPattern() string {
	return fmt.Sprintf("%s:order:*", b.keyPrefix)
}

// InsertOrder stores an order, replacing any order with the same key
func (b *RedisBackend) InsertOrder(ctx context.Context, order *core.Order, ttl time.Duration) error {
	if order.IsSynthetic() {
		return nil
	}
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	key := b.getOrderKey(order.ItemID, order.User(), order.Timestamp)
	if err := b.client.Set(ctx, key, data, ttl).Err(); err != nil {
		b.logger.Error("failed to store order",
			zap.String("key", key),
			zap.Error(err))
		return err
	}
	return nil
}

// UpdateNotified sets the notified flag of the stored order, keeping the rest
// of the stored value and its remaining TTL. The read-modify-write runs under
// WATCH and is retried when the key changes underneath.
func (b *RedisBackend) UpdateNotified(ctx context.Context, order *core.Order) error {
	if order.IsSynthetic() {
		return nil
	}
	key := b.getOrderKey(order.ItemID, order.User(), order.Timestamp)

	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return core.ErrNonexistentOrder
		}
		if err != nil {
			return err
		}
		var stored core.Order
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("decode order %s: %w", key, err)
		}
		stored.HasBeenNotified = order.HasBeenNotified
		if data, err = json.Marshal(&stored); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := b.client.Watch(ctx, update, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil), errors.Is(err, core.ErrNonexistentOrder):
			return core.ErrNonexistentOrder
		case err != nil:
			b.logger.Error("failed to update notified flag",
				zap.String("key", key),
				zap.Error(err))
		}
		return err
	}
	return fmt.Errorf("update notified flag %s: %w", key, redis.TxFailedErr)
}

// RemoveOrder deletes the stored order. Missing keys are not an error.
func (b *RedisBackend) RemoveOrder(ctx context.Context, order *core.Order) error {
	if order.IsSynthetic() {
		return nil
	}
	return b.client.Del(ctx, b.getOrderKey(order.ItemID, order.User(), order.Timestamp)).Err()
}

// LookupOrders returns the orders stored under the exact key
func (b *RedisBackend) LookupOrders(ctx context.Context, itemID, userID string, ts time.Time) ([]*core.Order, error) {
	key := b.getOrderKey(itemID, userID, ts)
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order core.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order %s: %w", key, err)
	}
	return []*core.Order{&order}, nil
}

// LoadAll scans every order key under the prefix. Values that fail to decode
// are logged and skipped.
func (b *RedisBackend) LoadAll(ctx context.Context) ([]*core.Order, error) {
	var (
		orders []*core.Order
		cursor uint64
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.scanPattern(), scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		if len(keys) > 0 {
			values, err := b.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("load orders: %w", err)
			}
			for i, v := range values {
				s, ok := v.(string)
				if !ok {
					// expired between SCAN and MGET
					continue
				}
				var order core.Order
				if err := json.Unmarshal([]byte(s), &order); err != nil {
					b.logger.Warn("skipping undecodable order",
						zap.String("key", keys[i]),
						zap.Error(err))
					continue
				}
				orders = append(orders, &order)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].ItemID != orders[j].ItemID {
			return orders[i].ItemID < orders[j].ItemID
		}
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
	return orders, nil
}

var _ core.OrderStore = (*RedisBackend)(nil)
