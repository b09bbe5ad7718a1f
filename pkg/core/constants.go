package core

import (
	"errors"
	"time"
)

// Errors
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrFutureTimestamp  = errors.New("timestamp is in the future")
	ErrStaleTimestamp   = errors.New("timestamp is not newer than the last snapshot")
	ErrNonexistentOrder = errors.New("nonexistent order")
	ErrStoreClosed      = errors.New("order store closed")
	ErrInvalidArgument  = errors.New("invalid argument")
)

const (
	// DefaultOrderTTL is how long a persisted user order survives in storage
	DefaultOrderTTL = 7 * 24 * time.Hour
	// DefaultMaxOrderAge is the age after which snapshots evict an entry regardless of price
	DefaultMaxOrderAge = 7 * 24 * time.Hour
	// NoSellThreshold is used as minimum sell price when a snapshot carries no sell liquidity
	NoSellThreshold = 10_000_000
)
