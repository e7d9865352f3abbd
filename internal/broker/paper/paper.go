// Package paper implements the broker capability against the live book,
// filling orders immediately at top of book. It backs paper mode and tests;
// nothing leaves the process.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// PriceSource supplies the current top of book used to price fills.
// *book.Book satisfies it.
type PriceSource interface {
	BestBid() (domain.PriceLevel, bool)
	BestAsk() (domain.PriceLevel, bool)
}

// Broker is an in-process simulated broker. Buys fill at the best ask, sells
// at the best bid; an empty opposite side rejects the order.
type Broker struct {
	prices PriceSource
	logger *slog.Logger

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*domain.Position // symbol -> open position
	orders    map[string]domain.OrderResult
}

// New creates a paper broker with the given starting balance.
func New(prices PriceSource, balance decimal.Decimal, logger *slog.Logger) *Broker {
	return &Broker{
		prices:    prices,
		logger:    logger.With(slog.String("component", "paper_broker")),
		balance:   balance,
		positions: make(map[string]*domain.Position),
		orders:    make(map[string]domain.OrderResult),
	}
}

// SubmitOrder fills req at the current top of book. An opening order creates
// a position; an order against an existing position closes it and realizes
// the PnL into the balance.
func (b *Broker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Size.Sign() <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: size must be positive: %w", domain.ErrOrderRejected)
	}

	price, ok := b.fillPrice(req.Side)
	if !ok {
		res := domain.OrderResult{
			OrderID: uuid.New().String(),
			Status:  domain.OrderStatusRejected,
			Message: "no liquidity on opposite side",
		}
		b.record(res)
		return res, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	res := domain.OrderResult{
		OrderID:     uuid.New().String(),
		Status:      domain.OrderStatusFilled,
		FilledPrice: price,
		FilledSize:  req.Size,
	}

	pos, open := b.positions[req.Symbol]
	switch {
	case !open:
		now := time.Now().UTC()
		b.positions[req.Symbol] = &domain.Position{
			ID:         uuid.New().String(),
			Symbol:     req.Symbol,
			Side:       req.Side,
			Size:       req.Size,
			EntryPrice: price,
			Status:     domain.PositionStatusOpen,
			OpenedAt:   now,
		}
	case pos.Side != req.Side:
		pnl := pos.MarkPnL(price)
		b.balance = b.balance.Add(pnl)
		delete(b.positions, req.Symbol)
	default:
		res.Status = domain.OrderStatusRejected
		res.Message = "position already open on same side"
	}

	b.orders[res.OrderID] = res
	b.logger.DebugContext(ctx, "paper order processed",
		slog.String("order_id", res.OrderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("status", string(res.Status)),
		slog.String("price", price.String()),
	)
	return res, nil
}

func (b *Broker) fillPrice(side domain.OrderSide) (decimal.Decimal, bool) {
	var lvl domain.PriceLevel
	var ok bool
	if side == domain.OrderSideBuy {
		lvl, ok = b.prices.BestAsk()
	} else {
		lvl, ok = b.prices.BestBid()
	}
	return lvl.Price, ok
}

func (b *Broker) record(res domain.OrderResult) {
	b.mu.Lock()
	b.orders[res.OrderID] = res
	b.mu.Unlock()
}

// CancelOrder is a no-op for filled paper orders; unknown IDs return
// ErrNotFound.
func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, ok := b.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if res.Status == domain.OrderStatusFilled {
		return nil
	}
	res.Status = domain.OrderStatusCanceled
	b.orders[orderID] = res
	return nil
}

// GetPosition returns the open position for symbol, or nil when flat.
func (b *Broker) GetPosition(_ context.Context, symbol string) (*domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

// GetBalance returns the simulated account balance.
func (b *Broker) GetBalance(_ context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

// Compile-time interface check.
var _ domain.Broker = (*Broker)(nil)
