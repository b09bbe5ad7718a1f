package server

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/logging"
	"github.com/erain9/bazaarbook/pkg/messaging"
	"github.com/erain9/bazaarbook/pkg/otel"
	"github.com/nikolaydubina/fpdecimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultHydrationAttempts = 100
	defaultHydrationDelay    = 10 * time.Second
)

// OrderBookService reconciles user orders, market snapshots and delta
// updates into the per-item books held by an OrderBookManager.
//
// In-memory state is authoritative. Store writes and notifications happen
// inline but their failures are logged and never undo a book change.
type OrderBookService struct {
	manager *OrderBookManager
	store   core.OrderStore
	sender  messaging.MessageSender
	namer   core.ItemNamer
	marks   *watermarks
	metrics *otel.EngineMetrics

	orderTTL          time.Duration
	maxOrderAge       time.Duration
	hydrationAttempts int
	hydrationDelay    time.Duration
	now               func() time.Time
}

// Option configures an OrderBookService
type Option func(*OrderBookService)

// WithOrderTTL sets how long persisted orders are retained
func WithOrderTTL(ttl time.Duration) Option {
	return func(s *OrderBookService) { s.orderTTL = ttl }
}

// WithMaxOrderAge sets the age after which snapshots evict any order
func WithMaxOrderAge(age time.Duration) Option {
	return func(s *OrderBookService) { s.maxOrderAge = age }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(s *OrderBookService) { s.now = now }
}

// WithHydrationRetry sets how often Load retries and the base of its linear delay
func WithHydrationRetry(attempts int, baseDelay time.Duration) Option {
	return func(s *OrderBookService) {
		s.hydrationAttempts = attempts
		s.hydrationDelay = baseDelay
	}
}

// WithMetrics records engine counters on m
func WithMetrics(m *otel.EngineMetrics) Option {
	return func(s *OrderBookService) { s.metrics = m }
}

// NewOrderBookService creates the engine. namer may be nil, in which case
// notifications use a generic item name.
func NewOrderBookService(manager *OrderBookManager, store core.OrderStore, sender messaging.MessageSender, namer core.ItemNamer, opts ...Option) *OrderBookService {
	s := &OrderBookService{
		manager:           manager,
		store:             store,
		sender:            sender,
		namer:             namer,
		marks:             newWatermarks(),
		orderTTL:          core.DefaultOrderTTL,
		maxOrderAge:       core.DefaultMaxOrderAge,
		hydrationAttempts: defaultHydrationAttempts,
		hydrationDelay:    defaultHydrationDelay,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hydrationAttempts < 1 {
		s.hydrationAttempts = 1
	}
	return s
}

// GetOrderBook returns a snapshot of the item's book
func (s *OrderBookService) GetOrderBook(itemID string) *core.OrderBook {
	return s.manager.Snapshot(itemID)
}

// GetOrderBooks returns snapshots of several books keyed by item
func (s *OrderBookService) GetOrderBooks(itemIDs []string) map[string]*core.OrderBook {
	return s.manager.Snapshots(itemIDs)
}

// Watermark returns the newest snapshot time applied to the item
func (s *OrderBookService) Watermark(itemID string) (time.Time, bool) {
	return s.marks.get(itemID)
}

// Manager returns the underlying book cache
func (s *OrderBookService) Manager() *OrderBookManager {
	return s.manager
}

// AddOrder inserts an order and notifies every owner it displaces from the
// best price. Orders with a non-positive amount are logged and dropped.
func (s *OrderBookService) AddOrder(ctx context.Context, order *core.Order) {
	logger := logging.FromContext(ctx)
	if order == nil {
		return
	}
	if order.Amount <= 0 {
		logger.Warn().
			Str("item", order.ItemID).
			Int64("amount", order.Amount).
			Float64("price", order.PricePerUnit).
			Err(core.ErrInvalidAmount).
			Msg("Rejecting order")
		return
	}

	ctx, span := otel.StartSpan(ctx, otel.SpanAddOrder,
		attribute.String(otel.AttributeItemID, order.ItemID),
		attribute.String(otel.AttributeOrderSide, order.Side().String()),
		attribute.Float64(otel.AttributePrice, order.PricePerUnit),
		attribute.Int64(otel.AttributeAmount, order.Amount),
	)
	defer span.End()

	order = order.Clone()
	err := s.manager.WithBook(order.ItemID, func(book *core.OrderBook) {
		s.addOrderLocked(ctx, book, order)
	})
	if err != nil {
		logger.Error().Err(err).Str("item", order.ItemID).Msg("Failed to add order")
	}
}

// addOrderLocked runs with the item's lock held
func (s *OrderBookService) addOrderLocked(ctx context.Context, book *core.OrderBook, order *core.Order) {
	logger := logging.FromContext(ctx)

	outbid := book.GetAllOutbidOrders(order)
	book.Append(order)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(otel.AttributeOutbid, len(outbid)))

	for _, o := range outbid {
		s.notify(ctx, order, o, pathAdd)
		o.HasBeenNotified = true
		if err := s.store.UpdateNotified(ctx, o); err != nil {
			logger.Error().Err(err).Str("item", o.ItemID).Str("user_id", o.User()).Msg("Failed to persist notified flag")
		}
	}

	if order.IsSynthetic() {
		s.metrics.SyntheticAdded(ctx, order.Side().String())
		return
	}
	if err := s.store.InsertOrder(ctx, order, s.orderTTL); err != nil {
		logger.Error().Err(err).Str("item", order.ItemID).Str("user_id", order.User()).Msg("Failed to persist order")
	}
	logger.Info().
		Str("user_id", order.User()).
		Str("item", order.ItemID).
		Str("side", order.Side().String()).
		Int64("amount", order.Amount).
		Float64("price", order.PricePerUnit).
		Time("timestamp", order.Timestamp).
		Int("outbid", len(outbid)).
		Msg("Order added")
}

// RemoveOrder cancels the user's order identified by item and timestamp.
// The store is authoritative for the lookup; a miss in memory is only logged.
func (s *OrderBookService) RemoveOrder(ctx context.Context, itemID, userID string, ts time.Time) {
	logger := logging.FromContext(ctx).With().Str("item", itemID).Str("user_id", userID).Logger()

	ctx, span := otel.StartSpan(ctx, otel.SpanRemoveOrder, attribute.String(otel.AttributeItemID, itemID))
	defer span.End()

	orders, err := s.store.LookupOrders(ctx, itemID, userID, ts)
	if err != nil {
		logger.Error().Err(err).Time("timestamp", ts).Msg("Failed to look up order for removal")
		return
	}
	logger.Info().Time("timestamp", ts).Int("matches", len(orders)).Msg("Removing order")

	for _, o := range orders {
		removed := false
		err := s.manager.WithBook(o.ItemID, func(book *core.OrderBook) {
			removed = book.Remove(o)
		})
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("Failed to remove order from book")
		case removed:
			logger.Info().Int64("amount", o.Amount).Float64("price", o.PricePerUnit).Msg("Order removed")
		default:
			logger.Warn().
				Err(core.ErrNonexistentOrder).
				Int64("amount", o.Amount).
				Float64("price", o.PricePerUnit).
				Time("timestamp", o.Timestamp).
				Msg("Order to remove is not in the book")
		}
		if err := s.store.RemoveOrder(ctx, o); err != nil {
			logger.Error().Err(err).Msg("Failed to delete persisted order")
		}
	}
}

// UpdateOrderBook applies a partial price ladder. It returns false when the
// update is in the future or not newer than the last applied snapshot.
func (s *OrderBookService) UpdateOrderBook(ctx context.Context, update *core.OrderBookUpdate) bool {
	logger := logging.FromContext(ctx)
	if update == nil || update.ItemTag == "" {
		logger.Warn().Err(core.ErrInvalidArgument).Msg("Ignoring order book update without item")
		return false
	}
	logger = logger.With().Str("item", update.ItemTag).Time("timestamp", update.Timestamp).Logger()

	ctx, span := otel.StartSpan(ctx, otel.SpanUpdateOrderBook, attribute.String(otel.AttributeItemID, update.ItemTag))
	defer span.End()

	now := s.now()
	if update.Timestamp.After(now) {
		logger.Warn().Err(core.ErrFutureTimestamp).Time("now", now).Msg("Ignoring order book update")
		s.metrics.UpdateRejected(ctx, "future")
		span.SetAttributes(attribute.Bool(otel.AttributeAccepted, false))
		return false
	}
	if mark, ok := s.marks.get(update.ItemTag); ok && !update.Timestamp.After(mark) {
		logger.Warn().Err(core.ErrStaleTimestamp).Time("watermark", mark).Msg("Ignoring order book update")
		s.metrics.UpdateRejected(ctx, "stale")
		span.SetAttributes(attribute.Bool(otel.AttributeAccepted, false))
		return false
	}

	err := s.manager.WithBook(update.ItemTag, func(book *core.OrderBook) {
		if len(update.BuyOrders) > 0 {
			s.mergeSide(ctx, book, update, false, update.BuyOrders)
		}
		if len(update.SellOrders) > 0 {
			s.mergeSide(ctx, book, update, true, update.SellOrders)
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to update order book")
		return false
	}

	span.SetAttributes(attribute.Bool(otel.AttributeAccepted, true))
	logger.Info().
		Int("buy", len(update.BuyOrders)).
		Int("sell", len(update.SellOrders)).
		Msg("Updated order book")
	return true
}

// isBetter reports whether level a beats level b on the given side
func isBetter(a, b fpdecimal.Decimal, isSell bool) bool {
	if isSell {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

// mergeSide reconciles one side of a book with an incoming ladder
func (s *OrderBookService) mergeSide(ctx context.Context, book *core.OrderBook, update *core.OrderBookUpdate, isSell bool, entries []*core.Order) {
	logger := logging.FromContext(ctx).With().Str("item", update.ItemTag).Str("side", core.SideFromSell(isSell).String()).Logger()

	incoming := make([]*core.Order, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		o := e.Clone()
		o.ItemID = update.ItemTag
		o.IsSell = isSell
		o.Timestamp = update.Timestamp
		incoming = append(incoming, o)
	}
	if len(incoming) == 0 {
		return
	}
	sort.SliceStable(incoming, func(i, j int) bool {
		if isSell {
			return incoming[i].PricePerUnit < incoming[j].PricePerUnit
		}
		return incoming[i].PricePerUnit > incoming[j].PricePerUnit
	})

	// top of book displacement, independent of the notified flag
	best := incoming[0]
	if top := book.Best(isSell); top != nil && !top.IsSynthetic() && isBetter(best.Level(), top.Level(), isSell) {
		book.Delete(isSell, top)
		logger.Info().
			Str("user_id", top.User()).
			Float64("price", top.PricePerUnit).
			Float64("new_price", best.PricePerUnit).
			Msg("Removed displaced best order")
		s.notify(ctx, best, top, pathDelta)
	}

	levels := make(map[fpdecimal.Decimal]struct{}, len(incoming))
	minPrice, maxPrice := math.Inf(1), math.Inf(-1)
	for _, o := range incoming {
		level := o.Level()
		levels[level] = struct{}{}
		minPrice = math.Min(minPrice, o.PricePerUnit)
		maxPrice = math.Max(maxPrice, o.PricePerUnit)

		existing := findLevel(*book.SideOf(isSell), level)
		if existing != nil {
			existing.Amount = o.Amount
			if existing.Amount <= 0 {
				book.Delete(isSell, existing)
				logger.Info().Float64("price", existing.PricePerUnit).Int64("amount", o.Amount).Msg("Removed filled price level")
			}
			continue
		}
		if o.Amount > 0 {
			book.Append(o)
		} else {
			logger.Warn().Float64("price", o.PricePerUnit).Int64("amount", o.Amount).Msg("Skipping price level with invalid amount")
		}
	}

	// levels inside the covered range that the update did not reproduce are filled
	swept := book.DeleteWhere(isSell, func(o *core.Order) bool {
		if o.PricePerUnit < minPrice || o.PricePerUnit > maxPrice {
			return false
		}
		_, present := levels[o.Level()]
		return !present
	})
	for _, o := range swept {
		logger.Info().Float64("price", o.PricePerUnit).Msg("Removed order not present in update")
	}
}

func findLevel(side []*core.Order, level fpdecimal.Decimal) *core.Order {
	for _, o := range side {
		if o.Level().Equal(level) {
			return o
		}
	}
	return nil
}

// BazaarPull ingests a full market snapshot. Products are reconciled in
// parallel, one goroutine per item.
func (s *OrderBookService) BazaarPull(ctx context.Context, pull *core.BazaarPull) {
	if pull == nil {
		return
	}
	ctx, span := otel.StartSpan(ctx, otel.SpanBazaarPull, attribute.Int(otel.AttributeProducts, len(pull.Products)))
	defer span.End()

	var wg sync.WaitGroup
	for i := range pull.Products {
		product := &pull.Products[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.applySnapshot(ctx, pull.Timestamp, product)
		}()
	}
	wg.Wait()
}

func (s *OrderBookService) applySnapshot(ctx context.Context, ts time.Time, product *core.ProductSnapshot) {
	logger := logging.FromContext(ctx).With().Str("item", product.ProductID).Logger()
	s.marks.advance(product.ProductID, ts)

	// the buy summary is what instant buyers take from, so it bounds the sell side
	minSell := float64(core.NoSellThreshold)
	for i, e := range product.BuySummary {
		if i == 0 || e.PricePerUnit < minSell {
			minSell = e.PricePerUnit
		}
	}
	maxBuy := 0.0
	for i, e := range product.SellSummary {
		if i == 0 || e.PricePerUnit > maxBuy {
			maxBuy = e.PricePerUnit
		}
	}
	cutoff := s.now().Add(-s.maxOrderAge)

	err := s.manager.WithBook(product.ProductID, func(book *core.OrderBook) {
		evictedSell := book.DeleteWhere(true, func(o *core.Order) bool {
			return (o.PricePerUnit < minSell && o.Timestamp.Before(ts)) || o.Timestamp.Before(cutoff)
		})
		evictedBuy := book.DeleteWhere(false, func(o *core.Order) bool {
			return (o.PricePerUnit > maxBuy && o.Timestamp.Before(ts)) || o.Timestamp.Before(cutoff)
		})
		s.metrics.OrdersEvicted(ctx, core.Sell.String(), len(evictedSell))
		s.metrics.OrdersEvicted(ctx, core.Buy.String(), len(evictedBuy))
		for _, o := range append(evictedSell, evictedBuy...) {
			if o.IsSynthetic() {
				continue
			}
			if err := s.store.RemoveOrder(ctx, o); err != nil {
				logger.Error().Err(err).Str("user_id", o.User()).Msg("Failed to delete evicted order")
			}
		}

		// worst level first so each real order is displaced by the nearest price
		sells := append([]core.SummaryEntry(nil), product.BuySummary...)
		sort.SliceStable(sells, func(i, j int) bool { return sells[i].PricePerUnit > sells[j].PricePerUnit })
		s.synthesize(ctx, book, product.ProductID, ts, true, sells)

		buys := append([]core.SummaryEntry(nil), product.SellSummary...)
		sort.SliceStable(buys, func(i, j int) bool { return buys[i].PricePerUnit < buys[j].PricePerUnit })
		s.synthesize(ctx, book, product.ProductID, ts, false, buys)
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to apply snapshot")
	}
}

// synthesize adds userless liquidity for the part of each ladder row the
// book does not already hold
func (s *OrderBookService) synthesize(ctx context.Context, book *core.OrderBook, itemID string, ts time.Time, isSell bool, rows []core.SummaryEntry) {
	// amounts are compared against the side as it was before this pass
	prior := core.NewOrderBook()
	*prior.SideOf(isSell) = slices.Clone(*book.SideOf(isSell))

	for _, row := range rows {
		delta := row.Amount - prior.AmountAtLevel(isSell, row.PricePerUnit)
		if delta <= 0 {
			continue
		}
		s.addOrderLocked(ctx, book, &core.Order{
			ItemID:       itemID,
			IsSell:       isSell,
			PricePerUnit: row.PricePerUnit,
			Amount:       delta,
			Timestamp:    ts,
		})
	}
}

// Load hydrates the books from the store, then marks every real order except
// the best one per side as notified. The whole load is retried with a linear
// delay; after the last attempt the error is returned and the caller may keep
// serving with empty books.
func (s *OrderBookService) Load(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	ctx, span := otel.StartSpan(ctx, otel.SpanLoad)
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= s.hydrationAttempts; attempt++ {
		orders, err := s.store.LoadAll(ctx)
		if err == nil {
			s.hydrate(ctx, orders)
			logger.Info().Int("orders", len(orders)).Int("attempt", attempt).Msg("Loaded order books")
			return nil
		}
		lastErr = err
		logger.Error().Err(err).Int("attempt", attempt).Msg("Failed to load order books")
		if attempt == s.hydrationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.hydrationDelay):
		}
	}
	return fmt.Errorf("load order books after %d attempts: %w", s.hydrationAttempts, lastErr)
}

func (s *OrderBookService) hydrate(ctx context.Context, orders []*core.Order) {
	byItem := make(map[string][]*core.Order)
	for _, o := range orders {
		if o == nil || o.IsSynthetic() {
			continue
		}
		byItem[o.ItemID] = append(byItem[o.ItemID], o)
	}

	for itemID, items := range byItem {
		err := s.manager.WithBook(itemID, func(book *core.OrderBook) {
			for _, o := range items {
				book.Append(o)
			}
			markStaleNotified(book)
		})
		if err != nil {
			logger := logging.FromContext(ctx)
			logger.Error().Err(err).Str("item", itemID).Msg("Failed to hydrate order book")
		}
	}
	s.metrics.OrdersLoaded(ctx, len(orders))
}

// markStaleNotified keeps only the best real order per side eligible for
// notifications
func markStaleNotified(book *core.OrderBook) {
	for _, isSell := range []bool{true, false} {
		top := book.BestReal(isSell)
		for _, o := range *book.SideOf(isSell) {
			if !o.IsSynthetic() && o != top {
				o.HasBeenNotified = true
			}
		}
	}
}
