package server

import (
	"net/http"

	"github.com/erain9/bazaarbook/pkg/logging"
	"github.com/erain9/bazaarbook/pkg/otel"
)

// RegisterOrderBookService registers the order book routes on mux. When
// metrics is non-nil every route is instrumented under its pattern.
func RegisterOrderBookService(mux *http.ServeMux, service *HTTPOrderBookService, metrics *otel.HTTPServerMetrics) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"GET /orderbook/{itemTag}", service.GetOrderBook},
		{"POST /orderbook", service.AddOrder},
		{"DELETE /orderbook", service.RemoveOrder},
		{"POST /orderbook/update", service.UpdateOrderBook},
		{"POST /orderbook/batch", service.GetOrderBooks},
		{"POST /bazaar/pull", service.BazaarPull},
		{"GET /healthz", service.Health},
	}
	for _, route := range routes {
		var h http.Handler = route.handler
		if metrics != nil {
			h = metrics.Middleware(route.pattern, h)
		}
		mux.Handle(route.pattern, h)
	}
}

// NewHandler returns the complete HTTP handler for service with request
// logging applied
func NewHandler(service *OrderBookService, metrics *otel.HTTPServerMetrics) http.Handler {
	mux := http.NewServeMux()
	RegisterOrderBookService(mux, NewHTTPOrderBookService(service), metrics)
	return logging.Middleware(mux)
}
