package testutil

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressOverrides(t *testing.T) {
	t.Setenv("BAZAARBOOK_TEST_REDIS", "")
	t.Setenv("BAZAARBOOK_TEST_KAFKA", "")
	assert.Equal(t, DefaultRedisAddr, RedisAddr())
	assert.Equal(t, DefaultKafkaAddr, KafkaAddr())

	t.Setenv("BAZAARBOOK_TEST_REDIS", "redis:6379")
	t.Setenv("BAZAARBOOK_TEST_KAFKA", "kafka:9092")
	assert.Equal(t, "redis:6379", RedisAddr())
	assert.Equal(t, "kafka:9092", KafkaAddr())
}

func TestWithRedis(t *testing.T) {
	called := false
	WithRedis(t, func(redisAddr string) {
		called = true
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()

		result, err := client.Ping(context.Background()).Result()
		require.NoError(t, err, "Failed to ping Redis")
		assert.Equal(t, "PONG", result)
	})
	assert.True(t, called)
}

func TestSkipIfRedisUnavailable_UnreachableAddress(t *testing.T) {
	skipped := true
	t.Run("ping", func(t *testing.T) {
		SkipIfRedisUnavailable(t, "127.0.0.1:1")
		skipped = false
	})
	assert.True(t, skipped)
}
