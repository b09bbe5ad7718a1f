package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
)

type storedOrder struct {
	order     *core.Order
	expiresAt time.Time
}

// MemoryBackend implements core.OrderStore in process memory. It keeps the
// same expiry semantics as the durable backends and is meant for tests and
// single-process development runs.
type MemoryBackend struct {
	sync.RWMutex
	orders map[string]*storedOrder
	now    func() time.Time
}

// NewMemoryBackend creates new instance of MemoryBackend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		orders: make(map[string]*storedOrder),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for expiry checks
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.Lock()
	defer b.Unlock()
	b.now = now
}

func orderKey(itemID, userID string, ts time.Time) string {
	return fmt.Sprintf("%s|%s|%d", itemID, userID, ts.UnixNano())
}

// InsertOrder stores a copy of a user order
func (b *MemoryBackend) InsertOrder(_ context.Context, order *core.Order, ttl time.Duration) error {
	if order.IsSynthetic() {
		return nil
	}
	b.Lock()
	defer b.Unlock()

	stored := &storedOrder{order: order.Clone()}
	if ttl > 0 {
		stored.expiresAt = b.now().Add(ttl)
	}
	b.orders[orderKey(order.ItemID, order.User(), order.Timestamp)] = stored
	return nil
}

// UpdateNotified copies the notified flag onto the stored order
func (b *MemoryBackend) UpdateNotified(_ context.Context, order *core.Order) error {
	if order.IsSynthetic() {
		return nil
	}
	b.Lock()
	defer b.Unlock()

	stored, ok := b.orders[orderKey(order.ItemID, order.User(), order.Timestamp)]
	if !ok || b.expired(stored) {
		return core.ErrNonexistentOrder
	}
	stored.order.HasBeenNotified = order.HasBeenNotified
	return nil
}

// RemoveOrder deletes a stored order
func (b *MemoryBackend) RemoveOrder(_ context.Context, order *core.Order) error {
	if order.IsSynthetic() {
		return nil
	}
	b.Lock()
	defer b.Unlock()

	delete(b.orders, orderKey(order.ItemID, order.User(), order.Timestamp))
	return nil
}

// LookupOrders returns the stored orders matching item, user and timestamp
func (b *MemoryBackend) LookupOrders(_ context.Context, itemID, userID string, ts time.Time) ([]*core.Order, error) {
	b.RLock()
	defer b.RUnlock()

	stored, ok := b.orders[orderKey(itemID, userID, ts)]
	if !ok || b.expired(stored) {
		return nil, nil
	}
	return []*core.Order{stored.order.Clone()}, nil
}

// LoadAll returns all unexpired orders ordered by item and timestamp
func (b *MemoryBackend) LoadAll(_ context.Context) ([]*core.Order, error) {
	b.Lock()
	defer b.Unlock()

	orders := make([]*core.Order, 0, len(b.orders))
	for key, stored := range b.orders {
		if b.expired(stored) {
			delete(b.orders, key)
			continue
		}
		orders = append(orders, stored.order.Clone())
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].ItemID != orders[j].ItemID {
			return orders[i].ItemID < orders[j].ItemID
		}
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
	return orders, nil
}

// Len returns the number of stored orders, expired ones included
func (b *MemoryBackend) Len() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.orders)
}

func (b *MemoryBackend) expired(s *storedOrder) bool {
	return !s.expiresAt.IsZero() && !b.now().Before(s.expiresAt)
}

// Ensure MemoryBackend implements core.OrderStore
var _ core.OrderStore = (*MemoryBackend)(nil)
