package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single aggregated price+quantity entry in an orderbook side.
// A level with zero quantity is never stored; removal is expressed by a delta
// entry whose quantity parses to zero.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// RawLevel is a price/quantity pair exactly as it arrives on the wire:
// decimal-formatted strings. Conversion to PriceLevel must go through exact
// decimal parsing, never float64.
type RawLevel struct {
	Price    string
	Quantity string
}

// BookSnapshot is a full replacement of orderbook state for one symbol.
type BookSnapshot struct {
	Symbol    string
	Bids      []RawLevel
	Asks      []RawLevel
	Sequence  uint64
	Timestamp time.Time
}

// BookDelta is an incremental set of level changes. A quantity of "0" removes
// the level at that price.
type BookDelta struct {
	Symbol    string
	Bids      []RawLevel
	Asks      []RawLevel
	Sequence  uint64
	Timestamp time.Time
}

// TopOfBook bundles the best levels of both sides for caching and display.
type TopOfBook struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}
