package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal is emitted by the imbalance generator to request order execution.
// It is immutable once created and consumed exactly once by the risk manager.
type Signal struct {
	ID         string // UUID for dedup and audit correlation
	Symbol     string
	Side       OrderSide
	Strength   decimal.Decimal // the imbalance ratio that produced the signal
	Confidence decimal.Decimal // [0,1], scales position size only
	CreatedAt  time.Time
}

// SpotOnly filters out SELL signals when short selling is structurally
// unavailable. It is a pure predicate applied before risk authorization.
func SpotOnly(sig *Signal) *Signal {
	if sig == nil || sig.Side == OrderSideSell {
		return nil
	}
	return sig
}
