package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Span names
	SpanAddOrder        = "add_order"
	SpanRemoveOrder     = "remove_order"
	SpanUpdateOrderBook = "update_order_book"
	SpanBazaarPull      = "bazaar_pull"
	SpanLoad            = "load_order_books"

	// Attribute keys
	AttributeItemID    = "order.item_id"
	AttributeOrderSide = "order.side"
	AttributePrice     = "order.price"
	AttributeAmount    = "order.amount"
	AttributeProducts  = "pull.products"
	AttributeAccepted  = "update.accepted"
	AttributeOutbid    = "order.outbid_count"
)

// StartSpan starts a span on the engine tracer. With tracing disabled the
// context is returned unchanged with a no-op span, so callers can always End it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := GetTracer()
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
