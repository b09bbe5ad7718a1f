package otel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

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
	return sums
}

func TestInit_CollectorDisabled(t *testing.T) {
	ResetForTesting()
	cleanup, err := Init(Config{CollectorEnabled: false})
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, GetTracer())
	assert.NotNil(t, GetMeterProvider())
}

func TestStartSpan_Disabled(t *testing.T) {
	ResetForTesting()
	ctx := context.Background()
	spanCtx, span := StartSpan(ctx, SpanAddOrder)
	require.NotNil(t, span)
	assert.Equal(t, ctx, spanCtx)
	span.End()
}

func TestStartSpan_Recorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	InitForTesting(tp.Tracer("test"))
	defer ResetForTesting()

	_, span := StartSpan(context.Background(), SpanBazaarPull, attribute.Int(AttributeProducts, 3))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, SpanBazaarPull, spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int(AttributeProducts, 3))
}

func TestEngineMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewEngineMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.NotificationSent(ctx, "undercut", "add")
	m.NotificationSent(ctx, "outbid", "delta")
	m.UpdateRejected(ctx, "stale")
	m.OrdersEvicted(ctx, "SELL", 3)
	m.OrdersEvicted(ctx, "BUY", 0)
	m.SyntheticAdded(ctx, "BUY")
	m.OrdersLoaded(ctx, 7)

	sums := collect(t, reader)
	assert.Equal(t, int64(2), sums["orderbook.notifications.total"])
	assert.Equal(t, int64(1), sums["orderbook.updates.rejected.total"])
	assert.Equal(t, int64(3), sums["orderbook.orders.evicted.total"])
	assert.Equal(t, int64(1), sums["orderbook.orders.synthetic.total"])
	assert.Equal(t, int64(7), sums["orderbook.orders.loaded"])
}

func TestEngineMetrics_NilSafe(t *testing.T) {
	var m *EngineMetrics
	ctx := context.Background()
	m.NotificationSent(ctx, "outbid", "add")
	m.UpdateRejected(ctx, "future")
	m.OrdersEvicted(ctx, "SELL", 1)
	m.SyntheticAdded(ctx, "SELL")
	m.OrdersLoaded(ctx, 1)
}

func TestHTTPServerMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewHTTPServerMetrics(mp.Meter("test"))
	require.NoError(t, err)

	h := m.Middleware("/orderbook/{itemTag}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orderbook/X", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sums := collect(t, reader)
	assert.Equal(t, int64(1), sums["http.server.requests.total"])
	assert.Equal(t, int64(0), sums["http.server.requests.in_flight"])
}
