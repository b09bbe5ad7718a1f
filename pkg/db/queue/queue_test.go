package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPull(ts time.Time, product string) *core.BazaarPull {
	return &core.BazaarPull{
		Timestamp: ts,
		Products: []core.ProductSnapshot{{
			ProductID:   product,
			BuySummary:  []core.SummaryEntry{{Amount: 100, PricePerUnit: 10.5, Orders: 2}},
			SellSummary: []core.SummaryEntry{{Amount: 50, PricePerUnit: 9.8, Orders: 1}},
		}},
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestDecodeBazaarPulls(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []*sarama.ConsumerMessage{
		{Offset: 1, Value: mustMarshal(t, testPull(ts, "WHEAT"))},
		{Offset: 2, Value: []byte("{not json")},
		{Offset: 3, Value: mustMarshal(t, testPull(ts.Add(time.Minute), "CARROT"))},
	}

	pulls := DecodeBazaarPulls(msgs, zerolog.Nop())
	require.Len(t, pulls, 2)
	assert.Equal(t, "WHEAT", pulls[0].Products[0].ProductID)
	assert.Equal(t, "CARROT", pulls[1].Products[0].ProductID)
	assert.True(t, pulls[1].Timestamp.Equal(ts.Add(time.Minute)))
	assert.Equal(t, int64(100), pulls[0].Products[0].BuySummary[0].Amount)
}

func TestBazaarPullPublisher_Publish(t *testing.T) {
	mockProd := &mockProducer{}

	oldNewSyncProducer := newSyncProducer
	defer func() { newSyncProducer = oldNewSyncProducer }()
	var gotConfig *sarama.Config
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		gotConfig = config
		return mockProd, nil
	}

	publisher, err := NewBazaarPullPublisher([]string{"localhost:9092"}, "bazaar-pulls")
	require.NoError(t, err)
	defer publisher.Close()
	assert.True(t, gotConfig.Producer.Return.Successes)

	pull := testPull(time.UnixMilli(1700000000000).UTC(), "WHEAT")
	require.NoError(t, publisher.Publish(pull))

	require.Len(t, mockProd.sentMessages, 1)
	msg := mockProd.sentMessages[0]
	assert.Equal(t, "bazaar-pulls", msg.Topic)
	assert.Equal(t, sarama.StringEncoder("1700000000000"), msg.Key)

	var decoded core.BazaarPull
	require.NoError(t, json.Unmarshal(msg.Value.(sarama.ByteEncoder), &decoded))
	assert.Equal(t, "WHEAT", decoded.Products[0].ProductID)

	mockProd.err = errors.New("broker down")
	assert.Error(t, publisher.Publish(pull))
}

func TestNewBazaarPullPublisher_ProducerError(t *testing.T) {
	oldNewSyncProducer := newSyncProducer
	defer func() { newSyncProducer = oldNewSyncProducer }()
	newSyncProducer = func(addrs []string, config *sarama.Config) (sarama.SyncProducer, error) {
		return nil, sarama.ErrOutOfBrokers
	}

	_, err := NewBazaarPullPublisher([]string{"localhost:9092"}, "t")
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestNewQueueMessageConsumer_Validation(t *testing.T) {
	_, err := NewQueueMessageConsumer(ConsumerConfig{Topic: "t", GroupID: "g"}, zerolog.Nop())
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewQueueMessageConsumer(ConsumerConfig{Brokers: []string{"b"}, GroupID: "g"}, zerolog.Nop())
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestBatchHandler_ConsumeClaim(t *testing.T) {
	ts := time.Now().UTC()
	var handled []string
	h := &batchHandler{
		batchSize:     2,
		flushInterval: time.Hour,
		logger:        zerolog.Nop(),
		handle: func(ctx context.Context, pull *core.BazaarPull) error {
			handled = append(handled, pull.Products[0].ProductID)
			return nil
		},
	}

	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 10, Value: mustMarshal(t, testPull(ts, "A"))}
	claim.messages <- &sarama.ConsumerMessage{Offset: 11, Value: mustMarshal(t, testPull(ts, "B"))}
	claim.messages <- &sarama.ConsumerMessage{Offset: 12, Value: []byte("garbage")}
	claim.messages <- &sarama.ConsumerMessage{Offset: 13, Value: mustMarshal(t, testPull(ts, "C"))}
	close(claim.messages)

	sess := &mockSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(sess, claim))

	assert.Equal(t, []string{"A", "B", "C"}, handled)
	assert.Equal(t, []int64{11, 13}, sess.markedOffsets())
}

func TestBatchHandler_FlushInterval(t *testing.T) {
	received := make(chan string, 1)
	h := &batchHandler{
		batchSize:     50,
		flushInterval: 20 * time.Millisecond,
		logger:        zerolog.Nop(),
		handle: func(ctx context.Context, pull *core.BazaarPull) error {
			received <- pull.Products[0].ProductID
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	sess := &mockSession{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()

	claim.messages <- &sarama.ConsumerMessage{Offset: 5, Value: mustMarshal(t, testPull(time.Now(), "A"))}

	select {
	case id := <-received:
		assert.Equal(t, "A", id)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for partial batch flush")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after cancellation")
	}
	assert.Equal(t, []int64{5}, sess.markedOffsets())
}

func TestQueueMessageConsumer_ConsumeBazaarPulls(t *testing.T) {
	group := newMockConsumerGroup()

	oldNewConsumerGroup := newConsumerGroup
	defer func() { newConsumerGroup = oldNewConsumerGroup }()
	newConsumerGroup = func(addrs []string, groupID string, config *sarama.Config) (sarama.ConsumerGroup, error) {
		assert.Equal(t, "bazaarbook", groupID)
		return group, nil
	}

	consumer, err := NewQueueMessageConsumer(ConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "bazaar-pulls",
		GroupID:       "bazaarbook",
		BatchSize:     1,
		FlushInterval: time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan *core.BazaarPull, 1)
	done := make(chan error, 1)
	go func() {
		done <- consumer.ConsumeBazaarPulls(ctx, func(ctx context.Context, pull *core.BazaarPull) error {
			received <- pull
			return errors.New("handler errors are logged, not fatal")
		})
	}()

	group.claim.messages <- &sarama.ConsumerMessage{Value: mustMarshal(t, testPull(time.Now(), "WHEAT"))}

	select {
	case pull := <-received:
		assert.Equal(t, "WHEAT", pull.Products[0].ProductID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bazaar pull")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	require.NoError(t, consumer.Close())
}
