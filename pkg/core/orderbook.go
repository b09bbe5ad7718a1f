package core

import (
	"sort"
)

// OrderBook holds the outstanding entries of one item.
//
// Both sides are unordered; best price and outbid queries are answered by a
// scan. Sides hold tens of price levels, so this stays cheap.
type OrderBook struct {
	// Buy holds all buy orders (highest is best)
	Buy []*Order `json:"buy"`
	// Sell holds all sell orders (lowest is best)
	Sell []*Order `json:"sell"`
}

// NewOrderBook creates an empty order book
func NewOrderBook() *OrderBook {
	return &OrderBook{
		Buy:  make([]*Order, 0),
		Sell: make([]*Order, 0),
	}
}

// SideOf returns the side an order with the given isSell flag lives on
func (ob *OrderBook) SideOf(isSell bool) *[]*Order {
	if isSell {
		return &ob.Sell
	}
	return &ob.Buy
}

// Append adds an order to its side
func (ob *OrderBook) Append(order *Order) {
	side := ob.SideOf(order.IsSell)
	*side = append(*side, order)
}

// Delete removes the given entry (by identity) from the side. It reports
// whether the entry was present.
func (ob *OrderBook) Delete(isSell bool, order *Order) bool {
	side := ob.SideOf(isSell)
	for i, o := range *side {
		if o == order {
			*side = append((*side)[:i], (*side)[i+1:]...)
			return true
		}
	}
	return false
}

// DeleteWhere removes every entry of a side matching pred and returns them
func (ob *OrderBook) DeleteWhere(isSell bool, pred func(*Order) bool) []*Order {
	side := ob.SideOf(isSell)
	kept := (*side)[:0]
	var removed []*Order
	for _, o := range *side {
		if o == nil {
			continue
		}
		if pred(o) {
			removed = append(removed, o)
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(*side); i++ {
		(*side)[i] = nil
	}
	*side = kept
	return removed
}

// GetAllOutbidOrders returns every order on the same side as entry that is
// owned by a user, has not been notified yet and is strictly worse priced than
// entry at one decimal. For a sell that means a higher price, for a buy a
// lower one. Results start with the order closest to the new price.
func (ob *OrderBook) GetAllOutbidOrders(entry *Order) []*Order {
	level := entry.Level()
	outbid := make([]*Order, 0)

	if entry.IsSell {
		for _, o := range ob.Sell {
			if o.UserID != nil && !o.HasBeenNotified && o.Level().GreaterThan(level) {
				outbid = append(outbid, o)
			}
		}
		sort.SliceStable(outbid, func(i, j int) bool {
			return outbid[i].PricePerUnit < outbid[j].PricePerUnit
		})
		return outbid
	}

	for _, o := range ob.Buy {
		if o.UserID != nil && !o.HasBeenNotified && o.Level().LessThan(level) {
			outbid = append(outbid, o)
		}
	}
	sort.SliceStable(outbid, func(i, j int) bool {
		return outbid[i].PricePerUnit > outbid[j].PricePerUnit
	})
	return outbid
}

// Remove deletes the first entry on the order's side that carries the same
// timestamp and has a player name. Ownership is not compared.
func (ob *OrderBook) Remove(order *Order) bool {
	side := ob.SideOf(order.IsSell)
	for _, o := range *side {
		if o.Timestamp.Equal(order.Timestamp) && o.PlayerName != nil {
			return ob.Delete(order.IsSell, o)
		}
	}
	return false
}

// Best returns the best priced entry of a side or nil when the side is empty
func (ob *OrderBook) Best(isSell bool) *Order {
	return best(*ob.SideOf(isSell), isSell, func(*Order) bool { return true })
}

// BestReal returns the best priced entry owned by a user
func (ob *OrderBook) BestReal(isSell bool) *Order {
	return best(*ob.SideOf(isSell), isSell, func(o *Order) bool { return o.UserID != nil })
}

func best(side []*Order, isSell bool, include func(*Order) bool) *Order {
	var top *Order
	for _, o := range side {
		if o == nil || !include(o) {
			continue
		}
		if top == nil ||
			(isSell && o.PricePerUnit < top.PricePerUnit) ||
			(!isSell && o.PricePerUnit > top.PricePerUnit) {
			top = o
		}
	}
	return top
}

// AmountAtLevel sums the amount of all entries of a side on the given price's level
func (ob *OrderBook) AmountAtLevel(isSell bool, price float64) int64 {
	level := PriceLevel(price)
	var sum int64
	for _, o := range *ob.SideOf(isSell) {
		if o.Level().Equal(level) {
			sum += o.Amount
		}
	}
	return sum
}

// Len returns the number of entries on both sides
func (ob *OrderBook) Len() int {
	return len(ob.Buy) + len(ob.Sell)
}

// Clone returns a deep copy of the book
func (ob *OrderBook) Clone() *OrderBook {
	c := &OrderBook{
		Buy:  make([]*Order, 0, len(ob.Buy)),
		Sell: make([]*Order, 0, len(ob.Sell)),
	}
	for _, o := range ob.Buy {
		c.Buy = append(c.Buy, o.Clone())
	}
	for _, o := range ob.Sell {
		c.Sell = append(c.Sell, o.Clone())
	}
	return c
}
