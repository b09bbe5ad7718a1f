package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/erain9/bazaarbook/pkg/core"
)

var (
	// ErrManagerClosed is returned when a book is mutated after Close
	ErrManagerClosed = errors.New("order book manager is closed")
)

// bookEntry pairs a book with the lock serializing all mutation of it
type bookEntry struct {
	mu   sync.Mutex
	book *core.OrderBook
}

// ManagerStats summarizes the cache contents
type ManagerStats struct {
	Books      int `json:"books"`
	BuyOrders  int `json:"buyOrders"`
	SellOrders int `json:"sellOrders"`
	RealOrders int `json:"realOrders"`
}

// OrderBookManager owns the per-item order books. Books are created on first
// use and live until Close. Every mutation of a book runs inside that item's
// lock, so operations on different items proceed in parallel.
type OrderBookManager struct {
	mu     sync.RWMutex
	books  map[string]*bookEntry
	closed bool
}

// NewOrderBookManager creates an empty OrderBookManager
func NewOrderBookManager() *OrderBookManager {
	return &OrderBookManager{
		books: make(map[string]*bookEntry),
	}
}

func (m *OrderBookManager) lookup(itemID string) *bookEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.books[itemID]
}

func (m *OrderBookManager) getOrCreate(itemID string) (*bookEntry, error) {
	m.mu.RLock()
	entry, ok := m.books[itemID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if ok {
		return entry, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if entry, ok = m.books[itemID]; !ok {
		entry = &bookEntry{book: core.NewOrderBook()}
		m.books[itemID] = entry
	}
	return entry, nil
}

// WithBook runs fn with exclusive access to the item's book, creating the
// book if needed. fn must not retain the book.
func (m *OrderBookManager) WithBook(itemID string, fn func(book *core.OrderBook)) error {
	entry, err := m.getOrCreate(itemID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.book)
	return nil
}

// Snapshot returns a deep copy of the item's book. Unknown items yield an
// empty book and are not created.
func (m *OrderBookManager) Snapshot(itemID string) *core.OrderBook {
	entry := m.lookup(itemID)
	if entry == nil {
		return core.NewOrderBook()
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.book.Clone()
}

// Snapshots returns a copy of every requested book keyed by item
func (m *OrderBookManager) Snapshots(itemIDs []string) map[string]*core.OrderBook {
	result := make(map[string]*core.OrderBook, len(itemIDs))
	for _, id := range itemIDs {
		result[id] = m.Snapshot(id)
	}
	return result
}

// Items lists the known item ids in sorted order
func (m *OrderBookManager) Items() []string {
	m.mu.RLock()
	items := make([]string, 0, len(m.books))
	for id := range m.books {
		items = append(items, id)
	}
	m.mu.RUnlock()
	sort.Strings(items)
	return items
}

// Stats counts books and entries
func (m *OrderBookManager) Stats() ManagerStats {
	m.mu.RLock()
	entries := make([]*bookEntry, 0, len(m.books))
	for _, e := range m.books {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	stats := ManagerStats{Books: len(entries)}
	for _, e := range entries {
		e.mu.Lock()
		stats.BuyOrders += len(e.book.Buy)
		stats.SellOrders += len(e.book.Sell)
		for _, side := range [][]*core.Order{e.book.Buy, e.book.Sell} {
			for _, o := range side {
				if !o.IsSynthetic() {
					stats.RealOrders++
				}
			}
		}
		e.mu.Unlock()
	}
	return stats
}

// Close rejects further mutation. Snapshots of existing books stay readable.
func (m *OrderBookManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
