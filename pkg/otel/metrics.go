package otel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/erain9/bazaarbook/pkg/otel"
)

var (
	engineMetrics     *EngineMetrics
	engineMetricsOnce sync.Once
)

// EngineMetrics counts what the reconciliation engine does
type EngineMetrics struct {
	notificationsSent metric.Int64Counter
	updatesRejected   metric.Int64Counter
	ordersEvicted     metric.Int64Counter
	syntheticAdded    metric.Int64Counter
	ordersLoaded      metric.Int64UpDownCounter
}

// NewEngineMetrics creates the engine instruments on meter
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	notificationsSent, err := meter.Int64Counter(
		"orderbook.notifications.total",
		metric.WithDescription("Outbid and undercut notifications sent"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	updatesRejected, err := meter.Int64Counter(
		"orderbook.updates.rejected.total",
		metric.WithDescription("Order book delta updates rejected at admission"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return nil, err
	}

	ordersEvicted, err := meter.Int64Counter(
		"orderbook.orders.evicted.total",
		metric.WithDescription("Orders evicted during snapshot reconciliation"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	syntheticAdded, err := meter.Int64Counter(
		"orderbook.orders.synthetic.total",
		metric.WithDescription("Synthetic orders inserted from snapshots"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersLoaded, err := meter.Int64UpDownCounter(
		"orderbook.orders.loaded",
		metric.WithDescription("Orders restored from the store at startup"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		notificationsSent: notificationsSent,
		updatesRejected:   updatesRejected,
		ordersEvicted:     ordersEvicted,
		syntheticAdded:    syntheticAdded,
		ordersLoaded:      ordersLoaded,
	}, nil
}

// GetEngineMetrics returns the singleton built on the configured meter
// provider. It returns nil if the instruments cannot be created.
func GetEngineMetrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		m, err := NewEngineMetrics(GetMeterProvider().Meter(instrumentationName))
		if err == nil {
			engineMetrics = m
		}
	})
	return engineMetrics
}

// NotificationSent counts one notification. path is "add" or "delta".
func (m *EngineMetrics) NotificationSent(ctx context.Context, kind, path string) {
	if m == nil {
		return
	}
	m.notificationsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("notification.kind", kind),
		attribute.String("notification.path", path),
	))
}

// UpdateRejected counts a rejected delta update
func (m *EngineMetrics) UpdateRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.updatesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// OrdersEvicted counts evicted orders of one side
func (m *EngineMetrics) OrdersEvicted(ctx context.Context, side string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.ordersEvicted.Add(ctx, int64(count), metric.WithAttributes(attribute.String("order.side", side)))
}

// SyntheticAdded counts a synthetic order
func (m *EngineMetrics) SyntheticAdded(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.syntheticAdded.Add(ctx, 1, metric.WithAttributes(attribute.String("order.side", side)))
}

// OrdersLoaded records the orders restored by a load
func (m *EngineMetrics) OrdersLoaded(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.ordersLoaded.Add(ctx, int64(count))
}

// HTTPServerMetrics holds the instruments of the HTTP API
type HTTPServerMetrics struct {
	serverLatency    metric.Float64Histogram
	requestsTotal    metric.Int64Counter
	requestsInFlight metric.Int64UpDownCounter
}

// NewHTTPServerMetrics creates the HTTP instruments on meter
func NewHTTPServerMetrics(meter metric.Meter) (*HTTPServerMetrics, error) {
	serverLatency, err := meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("Response latency (seconds) of the HTTP API"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"http.server.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestsInFlight, err := meter.Int64UpDownCounter(
		"http.server.requests.in_flight",
		metric.WithDescription("Number of HTTP requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPServerMetrics{
		serverLatency:    serverLatency,
		requestsTotal:    requestsTotal,
		requestsInFlight: requestsInFlight,
	}, nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records latency, traffic and in-flight requests per route
func (m *HTTPServerMetrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		m.requestsInFlight.Add(ctx, 1)
		defer m.requestsInFlight.Add(ctx, -1)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := metric.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", sw.status),
		)
		m.requestsTotal.Add(ctx, 1, attrs)
		m.serverLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	})
}
