// Package pebble stores tracked orders in an embedded pebble database so a
// single node can restart without an external store.
package pebble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/erain9/bazaarbook/pkg/core"
)

var (
	keyPrefix = []byte("order/")
	keyUpper  = []byte("order0")
)

type record struct {
	Order     *core.Order `json:"order"`
	ExpiresAt time.Time   `json:"expiresAt,omitempty"`
}

// PebbleBackend implements core.OrderStore on top of pebble
type PebbleBackend struct {
	db     *pebble.DB
	now    func() time.Time
	closed atomic.Bool
}

// Open opens (or creates) the database at dir
func Open(dir string) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store at %s: %w", dir, err)
	}
	return &PebbleBackend{db: db, now: time.Now}, nil
}

// SetClock replaces the clock used for expiry checks
func (b *PebbleBackend) SetClock(now func() time.Time) {
	b.now = now
}

// Close flushes and closes the database. Calls after the first return
// core.ErrStoreClosed, as does every other method.
func (b *PebbleBackend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return core.ErrStoreClosed
	}
	return b.db.Close()
}

// orderKey lays keys out as order/{item}\x00{unixnano}\x00{user} so a scan
// yields orders grouped by item in timestamp order.
func orderKey(itemID, userID string, ts time.Time) []byte {
	var buf bytes.Buffer
	buf.Write(keyPrefix)
	buf.WriteString(itemID)
	buf.WriteByte(0)
	fmt.Fprintf(&buf, "%020d", ts.UnixNano())
	buf.WriteByte(0)
	buf.WriteString(userID)
	return buf.Bytes()
}

func (b *PebbleBackend) put(order *core.Order, expiresAt time.Time) error {
	data, err := json.Marshal(record{Order: order, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	return b.db.Set(orderKey(order.ItemID, order.User(), order.Timestamp), data, pebble.Sync)
}

func (b *PebbleBackend) get(key []byte) (*record, error) {
	val, closer, err := b.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	if b.expired(&rec) {
		return nil, nil
	}
	return &rec, nil
}

func (b *PebbleBackend) expired(rec *record) bool {
	return !rec.ExpiresAt.IsZero() && !b.now().Before(rec.ExpiresAt)
}

// InsertOrder stores an order, replacing any order with the same key
func (b *PebbleBackend) InsertOrder(_ context.Context, order *core.Order, ttl time.Duration) error {
	if b.closed.Load() {
		return core.ErrStoreClosed
	}
	if order.IsSynthetic() {
		return nil
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = b.now().Add(ttl)
	}
	return b.put(order, expiresAt)
}

// UpdateNotified sets the notified flag of the stored order. The rest of the
// stored row and its expiry are left as they are.
func (b *PebbleBackend) UpdateNotified(_ context.Context, order *core.Order) error {
	if b.closed.Load() {
		return core.ErrStoreClosed
	}
	if order.IsSynthetic() {
		return nil
	}
	rec, err := b.get(orderKey(order.ItemID, order.User(), order.Timestamp))
	if err != nil {
		return err
	}
	if rec == nil {
		return core.ErrNonexistentOrder
	}
	rec.Order.HasBeenNotified = order.HasBeenNotified
	return b.put(rec.Order, rec.ExpiresAt)
}

// RemoveOrder deletes the stored order
func (b *PebbleBackend) RemoveOrder(_ context.Context, order *core.Order) error {
	if b.closed.Load() {
		return core.ErrStoreClosed
	}
	if order.IsSynthetic() {
		return nil
	}
	return b.db.Delete(orderKey(order.ItemID, order.User(), order.Timestamp), pebble.Sync)
}

// LookupOrders returns the orders stored under the exact key
func (b *PebbleBackend) LookupOrders(_ context.Context, itemID, userID string, ts time.Time) ([]*core.Order, error) {
	if b.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	rec, err := b.get(orderKey(itemID, userID, ts))
	if err != nil || rec == nil {
		return nil, err
	}
	return []*core.Order{rec.Order}, nil
}

// LoadAll returns every live order and deletes the expired ones
func (b *PebbleBackend) LoadAll(ctx context.Context) ([]*core.Order, error) {
	if b.closed.Load() {
		return nil, core.ErrStoreClosed
	}
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: keyUpper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	batch := b.db.NewBatch()
	defer batch.Close()

	var orders []*core.Order
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode order %q: %w", iter.Key(), err)
		}
		if rec.Order == nil {
			continue
		}
		if b.expired(&rec) {
			if err := batch.Delete(bytes.Clone(iter.Key()), nil); err != nil {
				return nil, err
			}
			continue
		}
		orders = append(orders, rec.Order)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if batch.Count() > 0 {
		if err := batch.Commit(pebble.Sync); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

var _ core.OrderStore = (*PebbleBackend)(nil)
