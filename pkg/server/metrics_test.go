package server

import (
	"context"
	"testing"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/otel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestService_RecordsEngineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := otel.NewEngineMetrics(provider.Meter("test"))
	require.NoError(t, err)

	env := newTestEnv(t, WithMetrics(metrics))
	ctx := context.Background()

	env.service.AddOrder(ctx, sell("user1", 100, 1, testNow.Add(-time.Hour)))
	env.service.AddOrder(ctx, sell("user2", 90, 1, testNow.Add(-time.Hour)))
	env.service.AddOrder(ctx, buy("user3", 50, 1, testNow.Add(-time.Hour)))
	env.service.UpdateOrderBook(ctx, &core.OrderBookUpdate{ItemTag: testItem, Timestamp: testNow.Add(time.Hour)})
	env.service.BazaarPull(ctx, &core.BazaarPull{
		Timestamp: testNow,
		Products: []core.ProductSnapshot{{
			ProductID:   testItem,
			BuySummary:  []core.SummaryEntry{{Amount: 4, PricePerUnit: 85}},
			SellSummary: []core.SummaryEntry{{Amount: 1, PricePerUnit: 40}},
		}},
	})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}

	// user1 by user2, then user2 by the synthetic sell at 85; the buy at 50 is
	// above the snapshot's best bid and gets evicted
	assert.Equal(t, int64(1), sums["orderbook.updates.rejected.total"])
	assert.Equal(t, int64(1), sums["orderbook.orders.evicted.total"])
	assert.Equal(t, int64(2), sums["orderbook.orders.synthetic.total"])
	assert.Equal(t, int64(2), sums["orderbook.notifications.total"])
}
