package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskDecision is the typed outcome of a risk authorization. Denials are
// expected results, not errors.
type RiskDecision struct {
	Authorized bool
	Reason     DenialReason
	SignalID   string
}

// DenialReason identifies which check rejected a signal. The first failing
// check wins; checks run in a fixed order.
type DenialReason string

const (
	DenialNone           DenialReason = ""
	DenialKillSwitch     DenialReason = "kill switch active"
	DenialDailyLoss      DenialReason = "daily loss limit breached"
	DenialMaxDrawdown    DenialReason = "max drawdown breached"
	DenialPositionSize   DenialReason = "position size exceeds limit"
	DenialExposureLimit  DenialReason = "exposure limit exceeded"
)

// RiskEvent is an immutable audit record emitted whenever a limit is breached
// or the kill switch fires.
type RiskEvent struct {
	ID        string
	Symbol    string
	Kind      string // "denial", "halt", "time_stop"
	Reason    string
	DailyPnL  decimal.Decimal
	Drawdown  decimal.Decimal
	CreatedAt time.Time
}
