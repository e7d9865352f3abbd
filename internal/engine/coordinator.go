// Package engine sequences the trading pipeline: book update, signal
// evaluation, risk authorization, order submission, and position exits.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flowbot/internal/book"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/risk"
	"github.com/alanyoungcy/flowbot/internal/strategy"
)

// Config holds the coordinator's trading parameters.
type Config struct {
	Symbol           string
	OrderSize        decimal.Decimal // base size, scaled by signal confidence
	StopLossPct      decimal.Decimal // exit when price moves this % against entry
	TakeProfitPct    decimal.Decimal // exit when price moves this % in favor
	CacheDepth       int             // top-of-book depth pushed to the cache
	StaleAfter       time.Duration   // suppress signals when the book is older
	SweepInterval    time.Duration   // cadence of time-stop and staleness sweeps
}

// Coordinator owns one symbol's pipeline. Book mutations arrive from the
// feed's single delivery goroutine, so evaluation always observes a fully
// applied update. Exactly one open position per symbol is enforced here.
type Coordinator struct {
	cfg     Config
	book    *book.Book
	strat   *strategy.Imbalance
	riskMgr *risk.Manager
	broker  domain.Broker
	sink    domain.AuditSink
	logger  *slog.Logger

	// Optional collaborators; nil disables them.
	positions domain.PositionStore
	trades    domain.TradeStore
	bookCache domain.BookCache
	signalBus domain.SignalBus

	mu         sync.Mutex
	open       *domain.Position
	suppressed bool // crossed or stale book: no signals until a clean snapshot
}

// New creates a coordinator for cfg.Symbol.
func New(cfg Config, b *book.Book, strat *strategy.Imbalance, riskMgr *risk.Manager,
	broker domain.Broker, sink domain.AuditSink, logger *slog.Logger) *Coordinator {
	if cfg.CacheDepth <= 0 {
		cfg.CacheDepth = 5
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		book:    b,
		strat:   strat,
		riskMgr: riskMgr,
		broker:  broker,
		sink:    sink,
		logger:  logger.With(slog.String("component", "coordinator"), slog.String("symbol", cfg.Symbol)),
	}
}

// SetStores attaches optional persistence collaborators.
func (c *Coordinator) SetStores(positions domain.PositionStore, trades domain.TradeStore) {
	c.positions = positions
	c.trades = trades
}

// SetCache attaches the optional book cache and signal bus.
func (c *Coordinator) SetCache(bookCache domain.BookCache, signalBus domain.SignalBus) {
	c.bookCache = bookCache
	c.signalBus = signalBus
}

// OpenPosition returns a copy of the current open position, if any.
func (c *Coordinator) OpenPosition() *domain.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return nil
	}
	cp := *c.open
	return &cp
}

// OnSnapshot applies a full book replacement. A clean snapshot lifts any
// crossed/stale suppression; reconnection gaps end here with fresh state.
func (c *Coordinator) OnSnapshot(ctx context.Context, snap domain.BookSnapshot) {
	if err := c.book.ApplySnapshot(snap); err != nil {
		c.logger.WarnContext(ctx, "snapshot rejected", slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	c.suppressed = false
	c.mu.Unlock()
	c.afterUpdate(ctx)
}

// OnDelta applies an incremental update. A malformed entry is recoverable:
// the applied prefix stands and the fault is logged.
func (c *Coordinator) OnDelta(ctx context.Context, delta domain.BookDelta) {
	if err := c.book.ApplyDelta(delta); err != nil {
		c.logger.WarnContext(ctx, "delta partially applied", slog.String("error", err.Error()))
	}
	c.afterUpdate(ctx)
}

// afterUpdate runs the per-tick pipeline: cache refresh, exit checks for an
// open position, otherwise signal evaluation.
func (c *Coordinator) afterUpdate(ctx context.Context) {
	c.publishTop(ctx)

	if c.book.Crossed() {
		c.mu.Lock()
		already := c.suppressed
		c.suppressed = true
		c.mu.Unlock()
		if !already {
			c.logger.WarnContext(ctx, "crossed book, suppressing signals until next snapshot",
				slog.String("error", domain.ErrCrossedBook.Error()))
		}
		return
	}

	c.mu.Lock()
	open := c.open
	suppressed := c.suppressed
	c.mu.Unlock()

	if open != nil {
		c.checkExits(ctx)
		return
	}
	if suppressed {
		return
	}
	c.evaluate(ctx)
}

// evaluate asks the strategy for a signal and walks it through risk and
// submission.
func (c *Coordinator) evaluate(ctx context.Context) {
	sig := c.strat.Evaluate(ctx, c.book)
	if sig == nil {
		return
	}
	c.auditSignal(ctx, sig)

	size := c.cfg.OrderSize.Mul(sig.Confidence)
	if size.Sign() <= 0 {
		return
	}
	refPrice, ok := c.referencePrice(sig.Side)
	if !ok {
		return
	}
	notional := refPrice.Mul(size)

	decision := c.riskMgr.Authorize(ctx, sig, notional, c.openExposure())
	c.auditDecision(ctx, sig, decision)
	if !decision.Authorized {
		return
	}

	stop, take := c.exitPrices(sig.Side, refPrice)
	res, err := c.broker.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Size:       size,
		StopLoss:   stop,
		TakeProfit: take,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "order submission failed",
			slog.String("signal_id", sig.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !res.Filled() {
		c.logger.WarnContext(ctx, "order not filled",
			slog.String("order_id", res.OrderID),
			slog.String("status", string(res.Status)),
			slog.String("message", res.Message),
		)
		return
	}

	pos := domain.Position{
		ID:         uuid.New().String(),
		Symbol:     sig.Symbol,
		Side:       sig.Side,
		Size:       res.FilledSize,
		EntryPrice: res.FilledPrice,
		Status:     domain.PositionStatusOpen,
		OpenedAt:   time.Now().UTC(),
	}
	c.mu.Lock()
	c.open = &pos
	c.mu.Unlock()

	c.auditFill(ctx, sig, res)
	if c.positions != nil {
		if err := c.positions.Create(ctx, pos); err != nil {
			c.logger.WarnContext(ctx, "position not persisted", slog.String("error", err.Error()))
		}
	}
	c.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("side", string(pos.Side)),
		slog.String("entry", pos.EntryPrice.String()),
		slog.String("size", pos.Size.String()),
	)
}

// checkExits closes the open position when stop-loss or take-profit fires.
func (c *Coordinator) checkExits(ctx context.Context) {
	c.mu.Lock()
	pos := c.open
	c.mu.Unlock()
	if pos == nil {
		return
	}

	mark, ok := c.markPrice(pos.Side)
	if !ok {
		return
	}

	hundred := decimal.NewFromInt(100)
	var reason string
	switch pos.Side {
	case domain.OrderSideBuy:
		stop := pos.EntryPrice.Mul(hundred.Sub(c.cfg.StopLossPct)).Div(hundred)
		take := pos.EntryPrice.Mul(hundred.Add(c.cfg.TakeProfitPct)).Div(hundred)
		if mark.LessThanOrEqual(stop) {
			reason = "stop_loss"
		} else if mark.GreaterThanOrEqual(take) {
			reason = "take_profit"
		}
	case domain.OrderSideSell:
		stop := pos.EntryPrice.Mul(hundred.Add(c.cfg.StopLossPct)).Div(hundred)
		take := pos.EntryPrice.Mul(hundred.Sub(c.cfg.TakeProfitPct)).Div(hundred)
		if mark.GreaterThanOrEqual(stop) {
			reason = "stop_loss"
		} else if mark.LessThanOrEqual(take) {
			reason = "take_profit"
		}
	}
	if reason == "" {
		return
	}
	c.closePosition(ctx, reason)
}

// closePosition submits the exit order and books the realized PnL.
func (c *Coordinator) closePosition(ctx context.Context, reason string) {
	c.mu.Lock()
	pos := c.open
	c.mu.Unlock()
	if pos == nil {
		return
	}

	exitSide := domain.OrderSideSell
	if pos.Side == domain.OrderSideSell {
		exitSide = domain.OrderSideBuy
	}

	res, err := c.broker.SubmitOrder(ctx, domain.OrderRequest{
		Symbol: pos.Symbol,
		Side:   exitSide,
		Size:   pos.Size,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "exit order failed",
			slog.String("position_id", pos.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	if !res.Filled() {
		c.logger.WarnContext(ctx, "exit order not filled",
			slog.String("position_id", pos.ID),
			slog.String("status", string(res.Status)),
		)
		return
	}

	now := time.Now().UTC()
	pnl := pos.MarkPnL(res.FilledPrice)
	c.riskMgr.RecordPnL(pnl, now)

	c.mu.Lock()
	c.open = nil
	c.mu.Unlock()

	if c.positions != nil {
		if err := c.positions.Close(ctx, pos.ID, res.FilledPrice, pnl); err != nil {
			c.logger.WarnContext(ctx, "position close not persisted", slog.String("error", err.Error()))
		}
	}
	if c.trades != nil {
		trade := domain.Trade{
			ID:         uuid.New().String(),
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  res.FilledPrice,
			PnL:        pnl,
			Reason:     reason,
			OpenedAt:   pos.OpenedAt,
			ClosedAt:   now,
		}
		if err := c.trades.Insert(ctx, trade); err != nil {
			c.logger.WarnContext(ctx, "trade not persisted", slog.String("error", err.Error()))
		}
	}

	c.audit(ctx, domain.AuditEvent{
		EventType: domain.AuditPositionExit,
		Timestamp: now,
		Symbol:    pos.Symbol,
		Payload: map[string]any{
			"position_id": pos.ID,
			"reason":      reason,
			"exit_price":  res.FilledPrice.String(),
			"pnl":         pnl.String(),
		},
	})
	c.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("reason", reason),
		slog.String("pnl", pnl.String()),
	)
}

// Run drives the scheduled sweeps: time-stop enforcement and staleness
// detection. It blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started")
	defer c.logger.Info("coordinator stopped")

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep runs the checks that are scheduled rather than tick-driven.
func (c *Coordinator) sweep(ctx context.Context) {
	now := time.Now().UTC()

	// Staleness: an old book must not produce signals.
	if last := c.book.LastUpdate(); !last.IsZero() && now.Sub(last) > c.cfg.StaleAfter {
		c.mu.Lock()
		already := c.suppressed
		c.suppressed = true
		c.mu.Unlock()
		if !already {
			c.logger.WarnContext(ctx, "book stale, suppressing signals",
				slog.String("error", domain.ErrDataStale.Error()),
				slog.Time("last_update", last),
			)
		}
	}

	// Time-stop: positions held too long are force-closed regardless of
	// signal flow.
	c.mu.Lock()
	var open []domain.Position
	if c.open != nil {
		open = []domain.Position{*c.open}
	}
	c.mu.Unlock()
	if len(open) == 0 {
		return
	}
	for range c.riskMgr.TimeStops(ctx, open, now) {
		c.closePosition(ctx, "time_stop")
	}
}

func (c *Coordinator) openExposure() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return decimal.Zero
	}
	return c.open.Notional()
}

// referencePrice is the price an order of the given side would cross at.
func (c *Coordinator) referencePrice(side domain.OrderSide) (decimal.Decimal, bool) {
	var lvl domain.PriceLevel
	var ok bool
	if side == domain.OrderSideBuy {
		lvl, ok = c.book.BestAsk()
	} else {
		lvl, ok = c.book.BestBid()
	}
	return lvl.Price, ok
}

// markPrice is the price an exit of the given position side would cross at.
func (c *Coordinator) markPrice(side domain.OrderSide) (decimal.Decimal, bool) {
	var lvl domain.PriceLevel
	var ok bool
	if side == domain.OrderSideBuy {
		lvl, ok = c.book.BestBid()
	} else {
		lvl, ok = c.book.BestAsk()
	}
	return lvl.Price, ok
}

func (c *Coordinator) exitPrices(side domain.OrderSide, entry decimal.Decimal) (stop, take *decimal.Decimal) {
	hundred := decimal.NewFromInt(100)
	if c.cfg.StopLossPct.Sign() > 0 {
		var s decimal.Decimal
		if side == domain.OrderSideBuy {
			s = entry.Mul(hundred.Sub(c.cfg.StopLossPct)).Div(hundred)
		} else {
			s = entry.Mul(hundred.Add(c.cfg.StopLossPct)).Div(hundred)
		}
		stop = &s
	}
	if c.cfg.TakeProfitPct.Sign() > 0 {
		var tp decimal.Decimal
		if side == domain.OrderSideBuy {
			tp = entry.Mul(hundred.Add(c.cfg.TakeProfitPct)).Div(hundred)
		} else {
			tp = entry.Mul(hundred.Sub(c.cfg.TakeProfitPct)).Div(hundred)
		}
		take = &tp
	}
	return stop, take
}

func (c *Coordinator) publishTop(ctx context.Context) {
	if c.bookCache == nil {
		return
	}
	if err := c.bookCache.SetTop(ctx, c.book.Top(c.cfg.CacheDepth)); err != nil {
		c.logger.DebugContext(ctx, "book cache update failed", slog.String("error", err.Error()))
	}
}

func (c *Coordinator) auditSignal(ctx context.Context, sig *domain.Signal) {
	c.audit(ctx, domain.AuditEvent{
		EventType: domain.AuditSignal,
		Timestamp: sig.CreatedAt,
		Symbol:    sig.Symbol,
		Payload: map[string]any{
			"signal_id":  sig.ID,
			"side":       string(sig.Side),
			"strength":   sig.Strength.String(),
			"confidence": sig.Confidence.String(),
		},
	})
	if c.signalBus != nil {
		payload, err := json.Marshal(sig)
		if err == nil {
			if err := c.signalBus.Publish(ctx, "signals:"+sig.Symbol, payload); err != nil {
				c.logger.DebugContext(ctx, "signal bus publish failed", slog.String("error", err.Error()))
			}
			if err := c.signalBus.StreamAppend(ctx, "signals", payload); err != nil {
				c.logger.DebugContext(ctx, "signal stream append failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Coordinator) auditDecision(ctx context.Context, sig *domain.Signal, dec domain.RiskDecision) {
	c.audit(ctx, domain.AuditEvent{
		EventType: domain.AuditRiskDecision,
		Timestamp: time.Now().UTC(),
		Symbol:    sig.Symbol,
		Payload: map[string]any{
			"signal_id":  sig.ID,
			"authorized": dec.Authorized,
			"reason":     string(dec.Reason),
		},
	})
}

func (c *Coordinator) auditFill(ctx context.Context, sig *domain.Signal, res domain.OrderResult) {
	c.audit(ctx, domain.AuditEvent{
		EventType: domain.AuditFill,
		Timestamp: time.Now().UTC(),
		Symbol:    sig.Symbol,
		Payload: map[string]any{
			"signal_id":    sig.ID,
			"order_id":     res.OrderID,
			"filled_price": res.FilledPrice.String(),
			"filled_size":  res.FilledSize.String(),
		},
	})
}

// audit publishes fire-and-forget; a dead sink degrades to a warning.
func (c *Coordinator) audit(ctx context.Context, ev domain.AuditEvent) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Publish(ctx, ev); err != nil {
		c.logger.WarnContext(ctx, "audit sink degraded",
			slog.String("event_type", ev.EventType),
			slog.String("error", err.Error()),
		)
	}
}
