package core

import (
	"context"
	"time"
)

// OrderStore persists user orders so books survive a restart.
// Implementations ignore synthetic orders (nil UserID).
type OrderStore interface {
	// InsertOrder stores a user order that expires after ttl
	InsertOrder(ctx context.Context, order *Order, ttl time.Duration) error
	// UpdateNotified patches only the notified flag of a stored order
	UpdateNotified(ctx context.Context, order *Order) error
	// RemoveOrder deletes a stored order
	RemoveOrder(ctx context.Context, order *Order) error
	// LookupOrders returns stored orders matching item, user and timestamp
	LookupOrders(ctx context.Context, itemID, userID string, timestamp time.Time) ([]*Order, error)
	// LoadAll returns every stored, unexpired order
	LoadAll(ctx context.Context) ([]*Order, error)
}

// ItemNamer resolves an item id to a display name. An empty result means the
// name is unknown. It is called while an item's book is locked and must not
// block on I/O.
type ItemNamer interface {
	ItemName(ctx context.Context, itemID string) string
}
