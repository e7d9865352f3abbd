package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position represents an open or historical trading position. At most one
// open position per symbol exists at a time; the engine enforces that.
type Position struct {
	ID            string
	Symbol        string
	Side          OrderSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Status        PositionStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *decimal.Decimal
}

// Notional returns the position's entry notional (entry price * size).
func (p Position) Notional() decimal.Decimal {
	return p.EntryPrice.Mul(p.Size)
}

// HeldFor returns how long the position has been open as of now.
func (p Position) HeldFor(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// MarkPnL returns the unrealized profit at the given mark price, signed from
// the position holder's perspective.
func (p Position) MarkPnL(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == OrderSideSell {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// Trade is a completed round trip (or a single fill record) persisted for
// reporting and archival.
type Trade struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	Reason     string // "take_profit", "stop_loss", "time_stop"
	OpenedAt   time.Time
	ClosedAt   time.Time
}
