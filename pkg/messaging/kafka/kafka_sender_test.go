package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/erain9/bazaarbook/pkg/messaging"
	"github.com/erain9/bazaarbook/pkg/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaMessageSender_NoBrokers(t *testing.T) {
	_, err := NewKafkaMessageSender(nil, "notifications")
	assert.Error(t, err)
}

func TestToMessage(t *testing.T) {
	n := &messaging.Notification{
		UserID:      "user-1",
		Summary:     "You were undercut",
		Message:     "msg",
		Reference:   "ref",
		SourceType:  messaging.SourceTypeBazaar,
		SourceSubID: messaging.SourceSubIDUndercut,
	}
	msg, err := toMessage(n)
	require.NoError(t, err)
	assert.Equal(t, []byte("user-1"), msg.Key)

	var decoded messaging.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, *n, decoded)
}

func TestKafkaMessageSender_SendNotification(t *testing.T) {
	testutil.SkipIfKafkaUnavailable(t, "localhost:9092")

	topic := "bazaarbook-notifications-test"
	sender, err := NewKafkaMessageSender([]string{"localhost:9092"}, topic)
	require.NoError(t, err)
	sender.writer.AllowAutoTopicCreation = true
	defer sender.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sender.SendNotification(ctx, &messaging.Notification{UserID: "u1", Summary: "s"}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()
	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", string(msg.Key))
}
