package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flowbot/internal/book"
	"github.com/alanyoungcy/flowbot/internal/broker/paper"
	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/engine"
	"github.com/alanyoungcy/flowbot/internal/feed"
	"github.com/alanyoungcy/flowbot/internal/risk"
	"github.com/alanyoungcy/flowbot/internal/strategy"
)

// TradeMode runs the full pipeline with durable persistence: positions,
// trades, and risk events must survive restarts, so Postgres is mandatory.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	if deps.Positions == nil {
		return errors.New("app: trade mode requires postgres to be enabled")
	}
	return a.runPipeline(ctx, deps)
}

// PaperMode runs the same pipeline against the simulated broker without any
// persistence requirements. Everything optional stays optional.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps)
}

// runPipeline wires the feed -> book -> strategy -> risk -> broker chain for
// the configured symbol and runs every long-lived component under one
// errgroup. The first component to fail cancels the rest.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	b := book.New(cfg.Feed.Symbol)

	strat := strategy.NewImbalance(strategy.ImbalanceConfig{
		Depth:         cfg.Strategy.Depth,
		BuyThreshold:  cfg.Strategy.BuyThreshold,
		SellThreshold: cfg.Strategy.SellThreshold,
		Confidence:    cfg.Strategy.Confidence,
		SpotOnly:      cfg.Strategy.SpotOnly,
	}, a.logger)

	riskMgr := risk.NewManager(risk.Config{
		DailyLossLimit:  cfg.Risk.DailyLossLimit,
		MaxDrawdown:     cfg.Risk.MaxDrawdown,
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MaxExposurePct:  cfg.Risk.MaxExposurePct,
		MaxHoldTime:     cfg.Risk.MaxHoldTime.Duration,
		InitialEquity:   cfg.Risk.InitialEquity,
	}, deps.AuditSink, a.logger)

	// Order execution is an in-process fill against the live book in both
	// trading modes; a venue adapter slots in behind the broker interface.
	broker := paper.New(b, cfg.Trading.PaperBalance, a.logger)

	coord := engine.New(engine.Config{
		Symbol:        cfg.Feed.Symbol,
		OrderSize:     cfg.Trading.OrderSize,
		StopLossPct:   cfg.Trading.StopLossPct,
		TakeProfitPct: cfg.Trading.TakeProfitPct,
		CacheDepth:    cfg.Strategy.Depth,
		StaleAfter:    cfg.Feed.StaleAfter.Duration,
		SweepInterval: cfg.Trading.SweepInterval.Duration,
	}, b, strat, riskMgr, broker, deps.AuditSink, a.logger)

	if deps.Positions != nil {
		coord.SetStores(deps.Positions, deps.Trades)
	}
	if deps.BookCache != nil {
		coord.SetCache(deps.BookCache, deps.SignalBus)
	}

	conn := feed.NewConnection(feed.Config{
		URL:          cfg.Feed.URL,
		Symbol:       cfg.Feed.Symbol,
		RetryFloor:   cfg.Feed.RetryFloor.Duration,
		RetryCeiling: cfg.Feed.RetryCeiling.Duration,
	}, coord.OnSnapshot, coord.OnDelta, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return conn.Run(gctx)
	})
	g.Go(func() error {
		return coord.Run(gctx)
	})

	if deps.Archiver != nil {
		retain := time.Duration(cfg.Archive.RetainDays) * 24 * time.Hour
		g.Go(func() error {
			return deps.Archiver.Run(gctx, cfg.Archive.Interval.Duration, retain)
		})
	}

	a.logger.InfoContext(ctx, "pipeline running",
		slog.String("symbol", cfg.Feed.Symbol),
		slog.String("strategy", strat.Name()),
	)

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: pipeline: %w", err)
	}
	return nil
}

// MonitorMode ingests the feed and keeps the book cache warm without ever
// submitting orders. When Redis is enabled it also tails the signal channel
// so an operator can watch what a trading instance is emitting.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	log := a.logger.With(slog.String("component", "monitor"))

	b := book.New(cfg.Feed.Symbol)

	publishTop := func(ctx context.Context) {
		if deps.BookCache == nil {
			return
		}
		if err := deps.BookCache.SetTop(ctx, b.Top(cfg.Strategy.Depth)); err != nil {
			log.DebugContext(ctx, "book cache update failed", slog.String("error", err.Error()))
		}
	}

	conn := feed.NewConnection(feed.Config{
		URL:          cfg.Feed.URL,
		Symbol:       cfg.Feed.Symbol,
		RetryFloor:   cfg.Feed.RetryFloor.Duration,
		RetryCeiling: cfg.Feed.RetryCeiling.Duration,
	}, func(ctx context.Context, snap domain.BookSnapshot) {
		if err := b.ApplySnapshot(snap); err != nil {
			log.WarnContext(ctx, "snapshot rejected", slog.String("error", err.Error()))
			return
		}
		publishTop(ctx)
	}, func(ctx context.Context, delta domain.BookDelta) {
		if err := b.ApplyDelta(delta); err != nil {
			log.WarnContext(ctx, "delta partially applied", slog.String("error", err.Error()))
		}
		publishTop(ctx)
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return conn.Run(gctx)
	})

	if deps.SignalBus != nil {
		g.Go(func() error {
			return a.tailSignals(gctx, deps, log)
		})
	}

	log.InfoContext(ctx, "monitor running", slog.String("symbol", cfg.Feed.Symbol))

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: monitor: %w", err)
	}
	return nil
}

// tailSignals subscribes to every signal channel and logs each published
// signal. It returns when the subscription channel closes or ctx ends.
func (a *App) tailSignals(ctx context.Context, deps *Dependencies, log *slog.Logger) error {
	ch, err := deps.SignalBus.Subscribe(ctx, "signals:*")
	if err != nil {
		return fmt.Errorf("app: subscribe signals: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			log.InfoContext(ctx, "signal observed", slog.String("payload", string(payload)))
		}
	}
}
