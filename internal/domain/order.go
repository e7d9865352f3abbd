package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order or signal.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus tracks the lifecycle of a submitted order.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderRequest is what the engine hands to the broker. StopLoss and TakeProfit
// are optional; nil means not set.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Size       decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// OrderResult is the broker's answer to an order submission.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledPrice decimal.Decimal
	FilledSize  decimal.Decimal
	Message     string
}

// Filled reports whether the order resulted in a fill.
func (r OrderResult) Filled() bool { return r.Status == OrderStatusFilled }

// Broker is the opaque order-placement capability. The engine never speaks an
// exchange protocol itself; adapters implement this interface.
type Broker interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}
