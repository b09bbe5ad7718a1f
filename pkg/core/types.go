package core

import (
	"time"
)

// OrderBookUpdate is a partial price-ladder update for one item. Either
// ladder may be empty, in which case that side is left untouched.
type OrderBookUpdate struct {
	ItemTag    string    `json:"itemTag"`
	Timestamp  time.Time `json:"timestamp"`
	BuyOrders  []*Order  `json:"buyOrders,omitempty"`
	SellOrders []*Order  `json:"sellOrders,omitempty"`
}

// SummaryEntry is one aggregated row of an externally observed ladder
type SummaryEntry struct {
	Amount       int64   `json:"amount"`
	PricePerUnit float64 `json:"pricePerUnit"`
	Orders       int     `json:"orders,omitempty"`
}

// ProductSnapshot holds the top ladder rows of one item at snapshot time.
//
// BuySummary lists the offers instant buyers take from, which is sell-side
// liquidity in this book. SellSummary is the mirror image and feeds the buy side.
type ProductSnapshot struct {
	ProductID   string         `json:"productId"`
	BuySummary  []SummaryEntry `json:"buySummary"`
	SellSummary []SummaryEntry `json:"sellSummary"`
}

// BazaarPull is one full market snapshot
type BazaarPull struct {
	Timestamp time.Time         `json:"timestamp"`
	Products  []ProductSnapshot `json:"products"`
}
