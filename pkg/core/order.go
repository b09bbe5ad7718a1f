package core

import (
	"fmt"
	"math"
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// Side represents buy or sell side of the order
type Side int

// Order sides
const (
	Sell Side = iota
	Buy
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// SideFromSell maps the isSell flag used on the wire to a Side
func SideFromSell(isSell bool) Side {
	if isSell {
		return Sell
	}
	return Buy
}

// Order is a single priced intent on one side of one item.
// A nil UserID marks a synthetic order derived from a market snapshot.
type Order struct {
	ItemID          string    `json:"itemId"`
	IsSell          bool      `json:"isSell"`
	UserID          *string   `json:"userId,omitempty"`
	PlayerName      *string   `json:"playerName,omitempty"`
	PricePerUnit    float64   `json:"pricePerUnit"`
	Amount          int64     `json:"amount"`
	Timestamp       time.Time `json:"timestamp"`
	HasBeenNotified bool      `json:"hasBeenNotified,omitempty"`
}

// Side returns the book side the order belongs to
func (o *Order) Side() Side {
	return SideFromSell(o.IsSell)
}

// IsSynthetic reports whether the order is not owned by a tracked user
func (o *Order) IsSynthetic() bool {
	return o.UserID == nil
}

// User returns the owning user id or an empty string for synthetic orders
func (o *Order) User() string {
	if o.UserID == nil {
		return ""
	}
	return *o.UserID
}

// Level returns the price level of the order
func (o *Order) Level() fpdecimal.Decimal {
	return PriceLevel(o.PricePerUnit)
}

// Key identifies a persisted order
func (o *Order) Key() OrderKey {
	return OrderKey{ItemID: o.ItemID, UserID: o.User(), Timestamp: o.Timestamp}
}

// Clone returns a copy that shares no pointers with o
func (o *Order) Clone() *Order {
	c := *o
	if o.UserID != nil {
		u := *o.UserID
		c.UserID = &u
	}
	if o.PlayerName != nil {
		p := *o.PlayerName
		c.PlayerName = &p
	}
	return &c
}

// String implements fmt.Stringer
func (o *Order) String() string {
	return fmt.Sprintf("%s %s %dx%.1f user=%q at %s",
		o.ItemID, o.Side(), o.Amount, o.PricePerUnit, o.User(), o.Timestamp.Format(time.RFC3339Nano))
}

// OrderKey is the composite key (item, user, timestamp) orders are persisted under
type OrderKey struct {
	ItemID    string
	UserID    string
	Timestamp time.Time
}

// RoundPrice rounds a price to one decimal place, midpoints to even
func RoundPrice(price float64) float64 {
	return math.RoundToEven(price*10) / 10
}

// PriceLevel is the rounded price as a decimal. Two orders sit on the same
// level iff their levels are equal.
func PriceLevel(price float64) fpdecimal.Decimal {
	return fpdecimal.FromFloat(RoundPrice(price))
}

// StringPtr is a helper for building orders with optional string fields
func StringPtr(s string) *string {
	return &s
}
