package queue

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
)

// mockProducer implements just enough of sarama.SyncProducer for our tests
type mockProducer struct {
	sentMessages []*sarama.ProducerMessage
	err          error
}

func (m *mockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	if m.err != nil {
		return 0, 0, m.err
	}
	m.sentMessages = append(m.sentMessages, msg)
	return 0, 0, nil
}

func (m *mockProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	m.sentMessages = append(m.sentMessages, msgs...)
	return nil
}

func (m *mockProducer) Close() error {
	return nil
}

func (m *mockProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return 0
}

func (m *mockProducer) BeginTxn() error {
	return nil
}

func (m *mockProducer) CommitTxn() error {
	return nil
}

func (m *mockProducer) AbortTxn() error {
	return nil
}

func (m *mockProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (m *mockProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (m *mockProducer) IsTransactional() bool {
	return false
}

// mockSession implements sarama.ConsumerGroupSession
type mockSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *mockSession) Claims() map[string][]int32 { return nil }
func (s *mockSession) MemberID() string           { return "member" }
func (s *mockSession) GenerationID() int32        { return 1 }
func (s *mockSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {
}
func (s *mockSession) Commit() {}
func (s *mockSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {
}
func (s *mockSession) Context() context.Context { return s.ctx }

func (s *mockSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

func (s *mockSession) markedOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.marked...)
}

// mockClaim implements sarama.ConsumerGroupClaim
type mockClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *mockClaim) Topic() string                            { return "bazaar" }
func (c *mockClaim) Partition() int32                         { return 0 }
func (c *mockClaim) InitialOffset() int64                     { return 0 }
func (c *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// mockConsumerGroup runs the handler once against a single claim
type mockConsumerGroup struct {
	claim  *mockClaim
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newMockConsumerGroup() *mockConsumerGroup {
	return &mockConsumerGroup{
		claim:  &mockClaim{messages: make(chan *sarama.ConsumerMessage, 16)},
		errs:   make(chan error),
		closed: make(chan struct{}),
	}
}

func (g *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	select {
	case <-g.closed:
		return sarama.ErrClosedConsumerGroup
	default:
	}
	sess := &mockSession{ctx: ctx}
	if err := handler.Setup(sess); err != nil {
		return err
	}
	err := handler.ConsumeClaim(sess, g.claim)
	_ = handler.Cleanup(sess)
	return err
}

func (g *mockConsumerGroup) Errors() <-chan error { return g.errs }

func (g *mockConsumerGroup) Close() error {
	g.once.Do(func() {
		close(g.closed)
		close(g.errs)
	})
	return nil
}

func (g *mockConsumerGroup) Pause(partitions map[string][]int32)  {}
func (g *mockConsumerGroup) Resume(partitions map[string][]int32) {}
func (g *mockConsumerGroup) PauseAll()                            {}
func (g *mockConsumerGroup) ResumeAll()                           {}
