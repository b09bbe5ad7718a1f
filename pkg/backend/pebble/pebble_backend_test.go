package pebble

import (
	"context"
	"testing"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *PebbleBackend {
	t.Helper()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testOrder(item, user string, ts time.Time) *core.Order {
	return &core.Order{
		ItemID:       item,
		IsSell:       true,
		UserID:       core.StringPtr(user),
		PlayerName:   core.StringPtr("Alex"),
		PricePerUnit: 99.9,
		Amount:       3,
		Timestamp:    ts,
	}
}

func TestPebbleBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestStore(t)
	ts := time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)
	order := testOrder("SUGAR_CANE", "user1", ts)

	require.NoError(t, b.InsertOrder(ctx, order, time.Hour))

	found, err := b.LookupOrders(ctx, "SUGAR_CANE", "user1", ts)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 99.9, found[0].PricePerUnit)
	assert.True(t, found[0].Timestamp.Equal(ts))

	order.HasBeenNotified = true
	require.NoError(t, b.UpdateNotified(ctx, order))
	found, err = b.LookupOrders(ctx, "SUGAR_CANE", "user1", ts)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].HasBeenNotified)

	require.NoError(t, b.RemoveOrder(ctx, order))
	found, err = b.LookupOrders(ctx, "SUGAR_CANE", "user1", ts)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.ErrorIs(t, b.UpdateNotified(ctx, order), core.ErrNonexistentOrder)
}

func TestPebbleBackend_ExpiredOrdersDroppedOnLoad(t *testing.T) {
	ctx := context.Background()
	b := openTestStore(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	require.NoError(t, b.InsertOrder(ctx, testOrder("A", "old", now), time.Minute))
	require.NoError(t, b.InsertOrder(ctx, testOrder("A", "new", now.Add(time.Second)), 24*time.Hour))

	now = now.Add(time.Hour)
	found, err := b.LookupOrders(ctx, "A", "old", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, found)

	all, err := b.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].User())

	// the expired record is gone even with the clock rewound
	now = now.Add(-time.Hour)
	all, err = b.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPebbleBackend_LoadAllOrderedByItemThenTime(t *testing.T) {
	ctx := context.Background()
	b := openTestStore(t)
	base := time.Now()

	require.NoError(t, b.InsertOrder(ctx, testOrder("B", "late", base.Add(time.Minute)), 0))
	require.NoError(t, b.InsertOrder(ctx, testOrder("B", "early", base), 0))
	require.NoError(t, b.InsertOrder(ctx, testOrder("A", "x", base.Add(time.Hour)), 0))
	require.NoError(t, b.InsertOrder(ctx, &core.Order{ItemID: "A", Timestamp: base}, 0))

	all, err := b.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"x", "early", "late"}, []string{all[0].User(), all[1].User(), all[2].User()})
}

func TestPebbleBackend_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := Open(dir)
	require.NoError(t, err)
	ts := time.Now()
	require.NoError(t, b.InsertOrder(ctx, testOrder("A", "u", ts), time.Hour))
	require.NoError(t, b.Close())

	b, err = Open(dir)
	require.NoError(t, err)
	defer b.Close()
	all, err := b.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPebbleBackend_Closed(t *testing.T) {
	ctx := context.Background()
	b, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Close(), core.ErrStoreClosed)
	assert.ErrorIs(t, b.InsertOrder(ctx, testOrder("A", "u", time.Now()), time.Hour), core.ErrStoreClosed)
	_, err = b.LoadAll(ctx)
	assert.ErrorIs(t, err, core.ErrStoreClosed)
}

func TestPebbleBackend_UpdateNotifiedKeepsStoredOrder(t *testing.T) {
	ctx := context.Background()
	b := openTestStore(t)
	ts := time.Now()
	order := testOrder("A", "u", ts)
	order.Amount = 64
	require.NoError(t, b.InsertOrder(ctx, order, time.Hour))

	changed := order.Clone()
	changed.Amount = 3
	changed.PricePerUnit = 10.04
	changed.HasBeenNotified = true
	require.NoError(t, b.UpdateNotified(ctx, changed))

	all, err := b.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].HasBeenNotified)
	assert.Equal(t, int64(64), all[0].Amount)
	assert.Equal(t, 99.9, all[0].PricePerUnit)
}
