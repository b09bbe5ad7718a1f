package messaging

import (
	"context"
	"sync"
)

// MockMessageSender records notifications instead of sending them.
type MockMessageSender struct {
	mu   sync.Mutex
	sent []*Notification
	err  error
}

// NewMockMessageSender creates a new MockMessageSender.
func NewMockMessageSender() *MockMessageSender {
	return &MockMessageSender{}
}

// SendNotification records n and returns the configured error, if any.
func (m *MockMessageSender) SendNotification(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	c := *n
	m.sent = append(m.sent, &c)
	return nil
}

// FailWith makes subsequent sends fail with err. Pass nil to recover.
func (m *MockMessageSender) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Sent returns a copy of every recorded notification in send order.
func (m *MockMessageSender) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notification, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the notifications recorded for one user.
func (m *MockMessageSender) SentTo(userID string) []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.sent {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// Reset drops all recorded notifications.
func (m *MockMessageSender) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// Close does nothing.
func (m *MockMessageSender) Close() error {
	return nil
}

// Ensure MockMessageSender implements MessageSender
var _ MessageSender = (*MockMessageSender)(nil)
